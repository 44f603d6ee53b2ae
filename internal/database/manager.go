package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "interviewhub/pkg/database"
	"interviewhub/pkg/interfaces"
	"interviewhub/pkg/types"
)

// Manager implements the DatabaseManager interface over SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the archive database and starts the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.Initialize(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer prevents blocking on write bursts
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				// FUNCTIONAL DISCOVERY: Retry exactly once after a fixed delay
				log.Printf("database: write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("database: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("database: write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// ArchiveSession persists the terminal snapshot of a session.
func (m *Manager) ArchiveSession(ctx context.Context, archive *types.SessionArchive) error {
	return m.executeWrite(func(db *sql.DB) error {
		participantsJSON, err := json.Marshal(archive.PreservedParticipants)
		if err != nil {
			return fmt.Errorf("failed to marshal participants: %w", err)
		}

		var summaryJSON, notesJSON any
		if archive.FinalSummary != nil {
			data, err := json.Marshal(archive.FinalSummary)
			if err != nil {
				return fmt.Errorf("failed to marshal final summary: %w", err)
			}
			summaryJSON = string(data)
		}
		if archive.Notes != nil {
			data, err := json.Marshal(archive.Notes)
			if err != nil {
				return fmt.Errorf("failed to marshal notes: %w", err)
			}
			notesJSON = string(data)
		}

		// FUNCTIONAL DISCOVERY: Upsert because EndSession can race with the
		// dashboard ending the same session; the last terminator wins,
		// matching the store's per-path semantics
		query := `
			INSERT INTO session_archives
				(code, created, created_by, terminated_by, terminated_at, preserved_participants, final_summary, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				terminated_by = excluded.terminated_by,
				terminated_at = excluded.terminated_at,
				preserved_participants = excluded.preserved_participants,
				final_summary = excluded.final_summary,
				notes = excluded.notes
		`
		_, err = db.ExecContext(ctx, query,
			archive.Code,
			archive.Created,
			archive.CreatedBy,
			archive.TerminatedBy,
			archive.TerminatedAt,
			string(participantsJSON),
			summaryJSON,
			notesJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session archive: %w", err)
		}
		return nil
	})
}

// GetSessionArchive retrieves an archived session by code.
func (m *Manager) GetSessionArchive(ctx context.Context, code string) (*types.SessionArchive, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no write channel
	query := `
		SELECT code, created, created_by, terminated_by, terminated_at, preserved_participants, final_summary, notes
		FROM session_archives
		WHERE code = ?
	`
	return scanArchive(m.db.QueryRowContext(ctx, query, code))
}

// ListSessionArchives returns archives newest-first.
func (m *Manager) ListSessionArchives(ctx context.Context) ([]*types.SessionArchive, error) {
	query := `
		SELECT code, created, created_by, terminated_by, terminated_at, preserved_participants, final_summary, notes
		FROM session_archives
		ORDER BY terminated_at DESC
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query archives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var archives []*types.SessionArchive
	for rows.Next() {
		archive, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		archives = append(archives, archive)
	}
	return archives, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanArchive(row scanner) (*types.SessionArchive, error) {
	var archive types.SessionArchive
	var participantsJSON string
	var summaryJSON, notesJSON sql.NullString

	err := row.Scan(
		&archive.Code,
		&archive.Created,
		&archive.CreatedBy,
		&archive.TerminatedBy,
		&archive.TerminatedAt,
		&participantsJSON,
		&summaryJSON,
		&notesJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to scan archive: %w", err)
	}

	if err := json.Unmarshal([]byte(participantsJSON), &archive.PreservedParticipants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if summaryJSON.Valid {
		archive.FinalSummary = &types.ActivitySummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), archive.FinalSummary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal final summary: %w", err)
		}
	}
	if notesJSON.Valid {
		archive.Notes = &types.InterviewerNotes{}
		if err := json.Unmarshal([]byte(notesJSON.String), archive.Notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
	}

	return &archive, nil
}

// StoreTrackingEvent appends one audit entry for a session.
func (m *Manager) StoreTrackingEvent(ctx context.Context, sessionCode string, event *types.TrackingEvent) error {
	return m.executeWrite(func(db *sql.DB) error {
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		query := `
			INSERT INTO tracking_events (id, session_code, user_id, user_name, event_type, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			newEventID(),
			sessionCode,
			event.UserID,
			event.UserName,
			event.EventType,
			string(metadataJSON),
			event.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert tracking event: %w", err)
		}
		return nil
	})
}

// ListTrackingEvents returns a session's audit entries oldest-first.
func (m *Manager) ListTrackingEvents(ctx context.Context, sessionCode string) ([]*types.TrackingEvent, error) {
	query := `
		SELECT user_id, user_name, event_type, metadata, created_at
		FROM tracking_events
		WHERE session_code = ?
		ORDER BY created_at ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.TrackingEvent
	for rows.Next() {
		var event types.TrackingEvent
		var metadataJSON string
		if err := rows.Scan(&event.UserID, &event.UserName, &event.EventType, &metadataJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan tracking event: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func newEventID() string {
	return uuid.New().String()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return dbconfig.ValidateTablesExist(m.db)
}

// Close flushes pending writes and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
