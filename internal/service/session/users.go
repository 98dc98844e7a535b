package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pocketcoach/backend/internal/model/chat"
)

// UserDirectory maps human-chosen usernames to session ids so returning
// users resume the same conversation across restarts.
type UserDirectory struct {
	store  *FileStore
	opener func() string

	mu   sync.Mutex
	path string
}

// NewUserDirectory builds a directory persisted beside the session records.
// opener supplies the assistant message that seeds a brand-new session.
func NewUserDirectory(store *FileStore, opener func() string) *UserDirectory {
	return &UserDirectory{
		store:  store,
		opener: opener,
		path:   filepath.Join(store.Dir(), "user_sessions.json"),
	}
}

// ResolveOrCreate returns the session id bound to username, creating and
// seeding a new session on first login. Concurrent logins for distinct
// usernames proceed independently; for the same username the last writer
// wins, but the mapping file is swapped atomically and never corrupted.
func (d *UserDirectory) ResolveOrCreate(ctx context.Context, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.load()
	if err != nil {
		return "", err
	}

	sessionID, known := users[username]
	if !known {
		newID, _, err := d.store.CreateOrResolve(ctx, "")
		if err != nil {
			return "", err
		}
		sessionID = newID
		users[username] = sessionID
		if err := d.save(users); err != nil {
			return "", err
		}
		log.Printf("[session] new user %q bound to session %s", username, sessionID)
	}

	// A returning user keeps the same id even after a reset; recreate the
	// record and seed it with a fresh opening question when it is missing.
	created, err := d.store.Ensure(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if created || !known {
		if err := d.store.Append(ctx, sessionID, chat.RoleAssistant, d.opener(), nil); err != nil {
			return "", fmt.Errorf("failed to seed opening question: %w", err)
		}
	}
	if known {
		log.Printf("[session] existing user %q resumes session %s", username, sessionID)
	}
	return sessionID, nil
}

// UsernameFor reverse-looks-up the username owning a session id, if any.
func (d *UserDirectory) UsernameFor(sessionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.load()
	if err != nil {
		return ""
	}
	for username, id := range users {
		if id == sessionID {
			return username
		}
	}
	return ""
}

func (d *UserDirectory) load() (map[string]string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}

	users := map[string]string{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to decode user directory: %w", err)
	}
	return users, nil
}

func (d *UserDirectory) save(users map[string]string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode user directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.store.Dir(), "user_sessions.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp user directory file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp user directory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp user directory file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to swap user directory: %w", err)
	}
	return nil
}
