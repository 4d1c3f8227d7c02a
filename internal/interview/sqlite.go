package interview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists interviews in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is
// accepted for throwaway stores.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			role TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			aiVoice TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			evaluation TEXT,
			startedAt REAL,
			completedAt REAL,
			createdAt REAL NOT NULL,
			updatedAt REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			interviewId TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			audioUrl TEXT NOT NULL DEFAULT '',
			ts REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_interview ON turns (interviewId, seq);`,
		`CREATE TABLE IF NOT EXISTS audio (
			id TEXT PRIMARY KEY,
			interviewId TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			contentType TEXT NOT NULL,
			data BLOB NOT NULL,
			createdAt REAL NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, iv Interview) (Interview, error) {
	if err := validateNew(iv); err != nil {
		return Interview{}, err
	}
	iv = normalizeNew(iv, uuid.NewString(), time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, title, role, difficulty, notes, aiVoice, status, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, iv.ID, iv.Title, iv.Role, iv.Difficulty, iv.Notes, iv.AIVoice, string(iv.Status), unixFromTime(iv.CreatedAt), unixFromTime(iv.UpdatedAt))
	if err != nil {
		return Interview{}, fmt.Errorf("create interview: %w", err)
	}
	return iv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Interview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, role, difficulty, notes, aiVoice, status, evaluation, startedAt, completedAt, createdAt, updatedAt
		FROM interviews
		WHERE id = ?
	`, id)

	var (
		iv                     Interview
		status                 string
		evaluation             sql.NullString
		startedAt, completedAt sql.NullFloat64
		createdAt, updatedAt   float64
	)
	if err := row.Scan(&iv.ID, &iv.Title, &iv.Role, &iv.Difficulty, &iv.Notes, &iv.AIVoice, &status,
		&evaluation, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Interview{}, ErrNotFound
		}
		return Interview{}, fmt.Errorf("scan interview: %w", err)
	}
	iv.Status = Status(status)
	iv.CreatedAt = timeFromUnix(createdAt)
	iv.UpdatedAt = timeFromUnix(updatedAt)
	if evaluation.Valid && evaluation.String != "" {
		iv.Evaluation = json.RawMessage(evaluation.String)
	}
	if startedAt.Valid {
		t := timeFromUnix(startedAt.Float64)
		iv.StartedAt = &t
	}
	if completedAt.Valid {
		t := timeFromUnix(completedAt.Float64)
		iv.CompletedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker, text, audioUrl, ts
		FROM turns
		WHERE interviewId = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return Interview{}, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	iv.Conversation = []ConversationTurn{}
	for rows.Next() {
		var (
			turn ConversationTurn
			ts   float64
		)
		if err := rows.Scan(&turn.Speaker, &turn.Text, &turn.AudioURL, &ts); err != nil {
			return Interview{}, fmt.Errorf("scan turn: %w", err)
		}
		turn.Timestamp = timeFromUnix(ts)
		iv.Conversation = append(iv.Conversation, turn)
	}
	return iv, rows.Err()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turn ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}
	now := time.Now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE interviews SET
			status = CASE WHEN status = 'pending' THEN 'in_progress' ELSE status END,
			startedAt = COALESCE(startedAt, ?),
			updatedAt = ?
		WHERE id = ?
	`, unixFromTime(now), unixFromTime(now), id)
	if err != nil {
		return fmt.Errorf("touch interview: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (interviewId, speaker, text, audioUrl, ts) VALUES (?, ?, ?, ?, ?)
	`, id, turn.Speaker, turn.Text, turn.AudioURL, unixFromTime(turn.Timestamp)); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Complete(ctx context.Context, id string) (Interview, bool, error) {
	now := unixFromTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE interviews SET
			status = 'completed',
			startedAt = COALESCE(startedAt, ?),
			completedAt = COALESCE(completedAt, ?),
			updatedAt = ?
		WHERE id = ? AND status <> 'completed'
	`, now, now, now, id)
	if err != nil {
		return Interview{}, false, fmt.Errorf("complete interview: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Interview{}, false, fmt.Errorf("complete interview: %w", err)
	}
	iv, err := s.Get(ctx, id)
	if err != nil {
		return Interview{}, false, err
	}
	return iv, n == 1, nil
}

func (s *SQLiteStore) SetEvaluation(ctx context.Context, id string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `UPDATE interviews SET evaluation = ?, updatedAt = ? WHERE id = ?`,
		string(result), unixFromTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PutAudio(ctx context.Context, obj AudioObject) (AudioObject, error) {
	obj.ID = uuid.NewString()
	obj.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audio (id, interviewId, speaker, contentType, data, createdAt)
		SELECT ?, id, ?, ?, ?, ? FROM interviews WHERE id = ?
	`, obj.ID, obj.Speaker, obj.ContentType, obj.Data, unixFromTime(obj.CreatedAt), obj.InterviewID)
	if err != nil {
		return AudioObject{}, fmt.Errorf("put audio: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return AudioObject{}, ErrNotFound
	}
	return obj, nil
}

func (s *SQLiteStore) GetAudio(ctx context.Context, id string) (AudioObject, error) {
	var (
		obj       AudioObject
		createdAt float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, interviewId, speaker, contentType, data, createdAt FROM audio WHERE id = ?
	`, id).Scan(&obj.ID, &obj.InterviewID, &obj.Speaker, &obj.ContentType, &obj.Data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AudioObject{}, ErrNotFound
	}
	if err != nil {
		return AudioObject{}, fmt.Errorf("get audio: %w", err)
	}
	obj.CreatedAt = timeFromUnix(createdAt)
	return obj, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM interviews GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count interviews: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
