package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists interviews in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			role TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			ai_voice TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			evaluation JSONB,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS interview_turns (
			seq BIGSERIAL PRIMARY KEY,
			interview_id TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			audio_url TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_turns_interview ON interview_turns (interview_id, seq);`,
		`CREATE TABLE IF NOT EXISTS interview_audio (
			id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, iv Interview) (Interview, error) {
	if err := validateNew(iv); err != nil {
		return Interview{}, err
	}
	iv = normalizeNew(iv, uuid.NewString(), time.Now().UTC())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interviews (id, title, role, difficulty, notes, ai_voice, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		iv.ID, iv.Title, iv.Role, iv.Difficulty, iv.Notes, iv.AIVoice, string(iv.Status), iv.CreatedAt, iv.UpdatedAt,
	)
	if err != nil {
		return Interview{}, fmt.Errorf("create interview: %w", err)
	}
	return iv, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Interview, error) {
	var (
		iv         Interview
		status     string
		evaluation []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, role, difficulty, notes, ai_voice, status, evaluation, started_at, completed_at, created_at, updated_at
		 FROM interviews WHERE id=$1`, id,
	).Scan(&iv.ID, &iv.Title, &iv.Role, &iv.Difficulty, &iv.Notes, &iv.AIVoice, &status, &evaluation,
		&iv.StartedAt, &iv.CompletedAt, &iv.CreatedAt, &iv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Interview{}, ErrNotFound
	}
	if err != nil {
		return Interview{}, fmt.Errorf("get interview: %w", err)
	}
	iv.Status = Status(status)
	if len(evaluation) > 0 {
		iv.Evaluation = json.RawMessage(evaluation)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT speaker, text, audio_url, ts FROM interview_turns WHERE interview_id=$1 ORDER BY seq ASC`, id)
	if err != nil {
		return Interview{}, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	iv.Conversation = []ConversationTurn{}
	for rows.Next() {
		var turn ConversationTurn
		if err := rows.Scan(&turn.Speaker, &turn.Text, &turn.AudioURL, &turn.Timestamp); err != nil {
			return Interview{}, fmt.Errorf("scan turn row: %w", err)
		}
		iv.Conversation = append(iv.Conversation, turn)
	}
	if err := rows.Err(); err != nil {
		return Interview{}, fmt.Errorf("iterate turn rows: %w", err)
	}
	return iv, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, id string, turn ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}
	now := time.Now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE interviews SET
			status = CASE WHEN status = 'pending' THEN 'in_progress' ELSE status END,
			started_at = COALESCE(started_at, $2),
			updated_at = $2
		 WHERE id=$1`, id, now)
	if err != nil {
		return fmt.Errorf("touch interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO interview_turns (interview_id, speaker, text, audio_url, ts) VALUES ($1, $2, $3, $4, $5)`,
		id, turn.Speaker, turn.Text, turn.AudioURL, turn.Timestamp,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Complete(ctx context.Context, id string) (Interview, bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE interviews SET
			status = 'completed',
			started_at = COALESCE(started_at, $2),
			completed_at = COALESCE(completed_at, $2),
			updated_at = $2
		 WHERE id=$1 AND status <> 'completed'`, id, now)
	if err != nil {
		return Interview{}, false, fmt.Errorf("complete interview: %w", err)
	}
	iv, err := s.Get(ctx, id)
	if err != nil {
		return Interview{}, false, err
	}
	return iv, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetEvaluation(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interviews SET evaluation=$2, updated_at=$3 WHERE id=$1`, id, []byte(result), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutAudio(ctx context.Context, obj AudioObject) (AudioObject, error) {
	obj.ID = uuid.NewString()
	obj.CreatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO interview_audio (id, interview_id, speaker, content_type, data, created_at)
		 SELECT $1, id, $3, $4, $5, $6 FROM interviews WHERE id=$2`,
		obj.ID, obj.InterviewID, obj.Speaker, obj.ContentType, obj.Data, obj.CreatedAt,
	)
	if err != nil {
		return AudioObject{}, fmt.Errorf("put audio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AudioObject{}, ErrNotFound
	}
	return obj, nil
}

func (s *PostgresStore) GetAudio(ctx context.Context, id string) (AudioObject, error) {
	var obj AudioObject
	err := s.pool.QueryRow(ctx,
		`SELECT id, interview_id, speaker, content_type, data, created_at FROM interview_audio WHERE id=$1`, id,
	).Scan(&obj.ID, &obj.InterviewID, &obj.Speaker, &obj.ContentType, &obj.Data, &obj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AudioObject{}, ErrNotFound
	}
	if err != nil {
		return AudioObject{}, fmt.Errorf("get audio: %w", err)
	}
	return obj, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM interviews GROUP BY status`)
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
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
