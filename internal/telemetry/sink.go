package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TurnRecord is the per-turn analytics row, one per completed exchange.
type TurnRecord struct {
	ID               uint      `gorm:"primaryKey"`
	SessionID        string    `gorm:"index"`
	Username         string
	UserMessage      string
	AssistantMessage string
	SentimentLabel   string
	SentimentScore   float64
	CreatedAt        time.Time
}

// Sink receives turn records. Implementations must never block the caller
// and must never surface failures to it.
type Sink interface {
	Record(rec TurnRecord)
}

type nopSink struct{}

func (nopSink) Record(TurnRecord) {}

// Nop returns a sink that discards everything.
func Nop() Sink {
	return nopSink{}
}

// SQLiteSink persists turn records asynchronously: Record enqueues onto a
// buffered channel and a single writer goroutine drains it into SQLite.
// When the buffer is full the record is dropped and logged.
type SQLiteSink struct {
	db    *gorm.DB
	queue chan TurnRecord

	closeOnce sync.Once
	done      chan struct{}
}

// NewSQLiteSink opens (or creates) the analytics database and starts the
// writer goroutine.
func NewSQLiteSink(path string, buffer int) (*SQLiteSink, error) {
	if buffer < 1 {
		buffer = 64
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access telemetry db handle: %w", err)
	}
	sqlDB.Exec("PRAGMA journal_mode = WAL;")

	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate telemetry schema: %w", err)
	}

	sink := &SQLiteSink{
		db:    db,
		queue: make(chan TurnRecord, buffer),
		done:  make(chan struct{}),
	}
	go sink.drain()
	return sink, nil
}

// Record enqueues without blocking; a full buffer drops the record.
func (s *SQLiteSink) Record(rec TurnRecord) {
	select {
	case s.queue <- rec:
	default:
		log.Printf("[telemetry] buffer full, dropping record for session %s", rec.SessionID)
	}
}

// Close stops accepting records and waits for the queue to drain.
func (s *SQLiteSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		<-s.done
	})
}

func (s *SQLiteSink) drain() {
	defer close(s.done)
	for rec := range s.queue {
		if err := s.db.Create(&rec).Error; err != nil {
			log.Printf("[telemetry] failed to persist record for session %s: %v", rec.SessionID, err)
		}
	}
}
