package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pocketcoach/backend/internal/model/chat"
)

var (
	// ErrSessionNotFound is returned for any operation on a session id
	// that has no durable record.
	ErrSessionNotFound = errors.New("session not found")
)

// FileStore keeps one JSON record per session on disk.
//
// Writers to the same session are serialized by a per-session mutex; the
// store-wide mutex only guards the lock table, so sessions never contend
// with each other. Every mutation rewrites the whole record to a temp file
// and renames it into place, so readers observe either the old or the new
// state, never a torn one.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore opens (and creates if needed) the session directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "sessions"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// CreateOrResolve returns the existing session when sessionID names one,
// otherwise allocates a fresh id and creates an empty record for it.
func (s *FileStore) CreateOrResolve(_ context.Context, sessionID string) (string, bool, error) {
	if sessionID != "" {
		if _, err := os.Stat(s.sessionPath(sessionID)); err == nil {
			return sessionID, false, nil
		}
	}

	id := uuid.NewString()
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record := chat.Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Messages:  []chat.Message{},
	}
	if err := s.writeSession(&record); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Ensure creates an empty record for a known session id when none exists.
// The user directory relies on this to keep a username bound to one id even
// after its session was reset. Reports whether a record was created.
func (s *FileStore) Ensure(_ context.Context, sessionID string) (bool, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.sessionPath(sessionID)); err == nil {
		return false, nil
	}

	record := chat.Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC(),
		Messages:  []chat.Message{},
	}
	if err := s.writeSession(&record); err != nil {
		return false, err
	}
	return true, nil
}

// Append durably adds one message to the session log.
func (s *FileStore) Append(_ context.Context, sessionID, role, content string, sentiment *chat.Sentiment) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.readSession(sessionID)
	if err != nil {
		return err
	}

	record.Messages = append(record.Messages, chat.Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Sentiment: sentiment,
	})
	return s.writeSession(record)
}

// Read returns the full message log, oldest first.
func (s *FileStore) Read(_ context.Context, sessionID string) ([]chat.Message, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.readSession(sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, len(record.Messages))
	copy(messages, record.Messages)
	return messages, nil
}

// Delete irreversibly removes the session record.
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.sessionPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return ErrSessionNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *FileStore) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *FileStore) readSession(sessionID string) (*chat.Session, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	record := &chat.Session{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if record.ID == "" {
		record.ID = sessionID
	}
	return record, nil
}

// writeSession writes the full record to a sibling temp file and swaps it
// into place, so a crash mid-write leaves the previous record intact.
func (s *FileStore) writeSession(record *chat.Session) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, record.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.sessionPath(record.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to swap session record: %w", err)
	}
	return nil
}
