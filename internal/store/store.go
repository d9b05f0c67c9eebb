// Package store persists feedback and visitor flags in DuckDB.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// ErrInvalid is returned for input the store refuses to persist.
var ErrInvalid = errors.New("invalid input")

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// Store is a DuckDB-backed store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS feedback (
		id         VARCHAR PRIMARY KEY,
		email      VARCHAR,
		message    VARCHAR NOT NULL,
		data_type  VARCHAR,
		lat        DOUBLE,
		lng        DOUBLE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visitors (
		client_id  VARCHAR PRIMARY KEY,
		visits     INTEGER NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen  TIMESTAMP NOT NULL
	)`,
}

// Open opens the database and creates missing tables.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := ""
	if cfg.DataDir != "" {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "canopy"
		}
		dsn = filepath.Join(dir, name+".duckdb")
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Named("store").Info("database ready", zap.String("path", dsnLabel(dsn)))
	return &Store{db: db, logger: logger.Named("store"), now: time.Now}, nil
}

func dsnLabel(dsn string) string {
	if dsn == "" {
		return ":memory:"
	}
	return dsn
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tables lists the tables of the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// FeedbackInput is a feedback submission.
type FeedbackInput struct {
	Email    string   `json:"email,omitempty" format:"email" doc:"Optional contact address"`
	Message  string   `json:"message" minLength:"1" maxLength:"5000" doc:"Feedback text"`
	DataType string   `json:"dataType,omitempty" doc:"Data type shown when the feedback was written"`
	Lat      *float64 `json:"lat,omitempty" doc:"Map center latitude"`
	Lng      *float64 `json:"lng,omitempty" doc:"Map center longitude"`
}

// Feedback is a stored submission.
type Feedback struct {
	ID string `json:"id" doc:"Feedback id"`
	FeedbackInput
	CreatedAt time.Time `json:"createdAt" doc:"Submission time"`
}

// AddFeedback stores a submission.
func (s *Store) AddFeedback(ctx context.Context, in FeedbackInput) (Feedback, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return Feedback{}, fmt.Errorf("%w: empty feedback message", ErrInvalid)
	}
	f := Feedback{ID: uuid.NewString(), FeedbackInput: in, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, email, message, data_type, lat, lng, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullString(in.Email), in.Message, nullString(in.DataType), in.Lat, in.Lng, f.CreatedAt)
	if err != nil {
		return Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	s.logger.Info("feedback stored", zap.String("id", f.ID))
	return f, nil
}

// CountFeedback returns the number of stored submissions.
func (s *Store) CountFeedback(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM feedback`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}

// ListFeedback returns up to limit submissions after skipping offset,
// newest first.
func (s *Store) ListFeedback(ctx context.Context, offset, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, message, data_type, lat, lng, created_at FROM feedback
		 ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := []Feedback{}
	for rows.Next() {
		var (
			f               Feedback
			email, dataType sql.NullString
			lat, lng        sql.NullFloat64
		)
		if err := rows.Scan(&f.ID, &email, &f.Message, &dataType, &lat, &lng, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.Email, f.DataType = email.String, dataType.String
		if lat.Valid {
			f.Lat = &lat.Float64
		}
		if lng.Valid {
			f.Lng = &lng.Float64
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Visit is the visitor record after a visit.
type Visit struct {
	ClientID         string    `json:"clientId" doc:"Client identifier"`
	HasVisitedBefore bool      `json:"hasVisitedBefore" doc:"Whether the client was seen before this visit"`
	Visits           int       `json:"visits" doc:"Number of recorded visits"`
	FirstSeen        time.Time `json:"firstSeen" doc:"Time of the first visit"`
}

// RecordVisit counts a visit of clientID and reports whether it had
// visited before.
func (s *Store) RecordVisit(ctx context.Context, clientID string) (Visit, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return Visit{}, fmt.Errorf("%w: client id must be a UUID", ErrInvalid)
	}
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO visitors (client_id, visits, first_seen, last_seen) VALUES (?, 1, ?, ?)
		 ON CONFLICT (client_id) DO UPDATE SET visits = visits + 1, last_seen = excluded.last_seen`,
		clientID, now, now)
	if err != nil {
		return Visit{}, fmt.Errorf("record visit: %w", err)
	}

	v := Visit{ClientID: clientID}
	err = s.db.QueryRowContext(ctx,
		`SELECT visits, first_seen FROM visitors WHERE client_id = ?`, clientID).Scan(&v.Visits, &v.FirstSeen)
	if err != nil {
		return Visit{}, fmt.Errorf("read visit: %w", err)
	}
	v.HasVisitedBefore = v.Visits > 1
	return v, nil
}

// HasVisited reports whether clientID has any recorded visit.
func (s *Store) HasVisited(ctx context.Context, clientID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM visitors WHERE client_id = ?`, clientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read visit: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
