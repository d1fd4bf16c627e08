package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	dbconfig "localboard/pkg/database"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
	"localboard/pkg/types"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("store is closed")

// busyRetryDelay is how long the writer waits before retrying a write that
// hit a locked sqlite database
const busyRetryDelay = 100 * time.Millisecond

// Store implements interfaces.Store over database/sql for sqlite and postgres
// ARCHITECTURAL DISCOVERY: SQL is written once with ? placeholders and rebound
// per dialect; sqlite writes go through a single writer goroutine while
// postgres writes go straight to the pool
type Store struct {
	db      *sql.DB
	dialect dbconfig.Dialect
	log     *slog.Logger

	writes   chan writeOperation // nil for postgres
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ interfaces.Store = (*Store)(nil)

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// Open opens the database described by cfg, applies pending migrations and
// validates the resulting schema
func Open(ctx context.Context, cfg *dbconfig.Config) (*Store, error) {
	db, err := dbconfig.Open(cfg)
	if err != nil {
		return nil, err
	}

	applied, err := dbconfig.NewMigrationManager(db, cfg.Dialect).ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db, cfg.Dialect).Validate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	s := New(db, cfg.Dialect)
	s.log.Info("database_opened", "dialect", cfg.Dialect, "migrations_applied", len(applied))
	return s, nil
}

// New wraps an open, migrated database
func New(db *sql.DB, dialect dbconfig.Dialect) *Store {
	s := &Store{
		db:       db,
		dialect:  dialect,
		log:      logger.With("component", "store", "dialect", string(dialect)),
		shutdown: make(chan struct{}),
	}
	if dialect == dbconfig.SQLite {
		// TECHNICAL: Buffer for write operations prevents blocking
		s.writes = make(chan writeOperation, 100)
		s.wg.Add(1)
		go s.writeLoop()
	}
	return s
}

// writeLoop processes all sqlite write operations in a single goroutine
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writes:
			err := op.operation(op.ctx, s.db)
			// FUNCTIONAL DISCOVERY: A locked database is retried exactly once
			if isBusy(err) && op.ctx.Err() == nil {
				s.log.Warn("database_write_busy", "error", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(op.ctx, s.db)
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite runs operation on the writer goroutine (sqlite) or directly
// (postgres) and waits for its result
func (s *Store) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if s.writes == nil {
		return operation(ctx, s.db)
	}

	result := make(chan error, 1)
	select {
	case s.writes <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return ErrClosed
	}
}

// q rebinds a query for the store's dialect
func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

const messageColumns = `id, author, state, lga, body, parent_id, attachment_url, attachment_type, status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var m types.Message
	var parent, url, mime sql.NullString
	if err := row.Scan(&m.ID, &m.Author, &m.Region.State, &m.Region.LGA, &m.Body,
		&parent, &url, &mime, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	if parent.Valid && parent.String != "" {
		m.ParentID = &parent.String
	}
	if url.Valid && url.String != "" {
		m.Attachment = &types.Attachment{URL: url.String, Type: mime.String}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// InsertMessage persists message and fills its ID and CreatedAt
func (s *Store) InsertMessage(ctx context.Context, message *types.Message) (string, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	region := message.Region.Normalize()

	var url, mime sql.NullString
	if a := message.Attachment; a != nil && a.URL != "" {
		url = sql.NullString{String: a.URL, Valid: true}
		mime = sql.NullString{String: a.Type, Valid: a.Type != ""}
	}
	status := message.Status
	if status == "" {
		status = types.StatusAccepted
	}

	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(`
			INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id, message.Author, region.State, region.LGA, message.Body,
			nullString(message.ParentID), url, mime, status, createdAt,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	message.ID = id
	message.Region = region
	message.Status = status
	message.CreatedAt = createdAt
	return id, nil
}

// GetMessage returns a message by ID
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// ReplyIDs returns the IDs of the direct replies to parentID, oldest first
func (s *Store) ReplyIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id FROM messages WHERE parent_id = ? ORDER BY created_at ASC`), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reply id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessage hard-deletes one message
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
}

// DeleteMessagesByParent hard-deletes the direct replies to parentID
func (s *Store) DeleteMessagesByParent(ctx context.Context, parentID string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE parent_id = ?`), parentID); err != nil {
			return fmt.Errorf("failed to delete replies: %w", err)
		}
		return nil
	})
}

// GetMessageRegion returns the region a message was posted in
func (s *Store) GetMessageRegion(ctx context.Context, id string) (types.Region, error) {
	var region types.Region
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state, lga FROM messages WHERE id = ?`), id).
		Scan(&region.State, &region.LGA)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Region{}, interfaces.ErrNotFound
		}
		return types.Region{}, fmt.Errorf("failed to query message region: %w", err)
	}
	return region, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// RoomHistory returns the most recent messages of a region, oldest first.
// limit <= 0 returns the whole room.
func (s *Store) RoomHistory(ctx context.Context, region types.Region, limit int) ([]*types.Message, error) {
	region = region.Normalize()
	query := `SELECT ` + messageColumns + ` FROM messages WHERE state = ? AND lga = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{region.State, region.LGA}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	messages, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchRoom returns top-level messages of region whose body contains query,
// newest first
func (s *Store) SearchRoom(ctx context.Context, region types.Region, query string, limit int) ([]*types.Message, error) {
	region = region.Normalize()
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
	sqlQuery := `SELECT ` + messageColumns + ` FROM messages
		WHERE state = ? AND lga = ? AND parent_id IS NULL AND LOWER(body) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{region.State, region.LGA, pattern}
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, sqlQuery, args...)
}

// InsertInteraction records a user acting on a message
func (s *Store) InsertInteraction(ctx context.Context, interaction *types.Interaction) error {
	createdAt := time.Now().UTC()
	var id int64
	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, s.q(`
			INSERT INTO interactions (user_id, message_id, type, created_at)
			VALUES (?, ?, ?, ?) RETURNING id`),
			interaction.UserID, interaction.MessageID, interaction.Type, createdAt,
		).Scan(&id)
	})
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	interaction.ID = id
	interaction.CreatedAt = createdAt
	return nil
}

// UserInteractions returns userID's interactions joined to their messages,
// newest first. limit <= 0 returns all of them.
func (s *Store) UserInteractions(ctx context.Context, userID string, limit int) ([]*types.InteractionRecord, error) {
	query := `SELECT i.id, i.type, i.created_at,
			m.id, m.author, m.state, m.lga, m.body, m.parent_id, m.attachment_url, m.attachment_type, m.status, m.created_at
		FROM interactions i
		JOIN messages m ON m.id = i.message_id
		WHERE i.user_id = ?
		ORDER BY i.created_at DESC, i.id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.InteractionRecord
	for rows.Next() {
		var rec types.InteractionRecord
		var parent, url, mime sql.NullString
		m := &rec.Message
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.CreatedAt,
			&m.ID, &m.Author, &m.Region.State, &m.Region.LGA, &m.Body,
			&parent, &url, &mime, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		if parent.Valid && parent.String != "" {
			m.ParentID = &parent.String
		}
		if url.Valid && url.String != "" {
			m.Attachment = &types.Attachment{URL: url.String, Type: mime.String}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interaction rows: %w", err)
	}
	return records, nil
}

const flaggedColumns = `id, user_id, body, reason, state, lga, status, reviewed_by, reviewed_at, created_at`

func scanFlagged(row rowScanner) (*types.Flagged, error) {
	var f types.Flagged
	var reviewer sql.NullString
	var reviewedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.UserID, &f.Body, &f.Reason, &f.Region.State, &f.Region.LGA,
		&f.Status, &reviewer, &reviewedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	if reviewer.Valid {
		f.ReviewedBy = &reviewer.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		f.ReviewedAt = &t
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

// InsertFlagged appends an entry to the review ledger
func (s *Store) InsertFlagged(ctx context.Context, flagged *types.Flagged) error {
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	region := flagged.Region.Normalize()

	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(`
			INSERT INTO flagged_messages (id, user_id, body, reason, state, lga, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			id, flagged.UserID, flagged.Body, flagged.Reason, region.State, region.LGA, flagged.Status, createdAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert flagged message: %w", err)
	}
	flagged.ID = id
	flagged.Region = region
	flagged.CreatedAt = createdAt
	return nil
}

// GetFlagged returns a ledger entry by ID
func (s *Store) GetFlagged(ctx context.Context, id string) (*types.Flagged, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+flaggedColumns+` FROM flagged_messages WHERE id = ?`), id)
	f, err := scanFlagged(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query flagged message: %w", err)
	}
	return f, nil
}

// ListFlagged returns ledger entries with status, newest first. An empty
// status lists every entry.
func (s *Store) ListFlagged(ctx context.Context, status string, limit int) ([]*types.Flagged, error) {
	query := `SELECT ` + flaggedColumns + ` FROM flagged_messages`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Flagged
	for rows.Next() {
		f, err := scanFlagged(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flagged row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFlaggedStatus records a moderator decision
func (s *Store) UpdateFlaggedStatus(ctx context.Context, id, status, reviewer string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, s.q(`
			UPDATE flagged_messages SET status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE id = ?`),
			status, reviewer, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update flagged message: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// GetUserRegion returns the persisted region of userID, or the zero region
// for users without a profile
func (s *Store) GetUserRegion(ctx context.Context, userID string) (types.Region, error) {
	var region types.Region
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state, lga FROM users WHERE id = ?`), userID).
		Scan(&region.State, &region.LGA)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Region{}, nil
		}
		return types.Region{}, fmt.Errorf("failed to query user region: %w", err)
	}
	return region, nil
}

// SetUserRegion upserts the user's profile region
func (s *Store) SetUserRegion(ctx context.Context, userID string, region types.Region) error {
	region = region.Normalize()
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(`
			INSERT INTO users (id, state, lga, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET state = excluded.state, lga = excluded.lga, updated_at = excluded.updated_at`),
			userID, region.State, region.LGA, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to set user region: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and a basic read
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect
func (s *Store) Dialect() dbconfig.Dialect {
	return s.dialect
}

// Close stops the writer and closes the pool. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
