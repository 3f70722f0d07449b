package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps jobs in an embedded sqlite database. A single connection
// serializes writers.
type SQLiteStore struct {
	conn *sql.DB
	log  logger.Logger
}

func NewSQLiteStore(dbPath string, log logger.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{conn: conn, log: logger.WithComponent(log, "sqlite")}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if n, err := s.markInterruptedJobs(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("failed to mark interrupted jobs")
	} else if n > 0 {
		s.log.Info().Int("count", n).Msg("marked interrupted jobs as failed")
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		s.log.Info().Str("name", name).Msg("applied migration")
	}
	return nil
}

func (s *SQLiteStore) isMigrationApplied(name string) bool {
	var applied int
	err := s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// markInterruptedJobs fails every job a previous process left mid-pipeline;
// nothing resumes them.
func (s *SQLiteStore) markInterruptedJobs(ctx context.Context) (int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM jobs WHERE status NOT IN (?, ?)`,
		string(model.JobStatusDone), string(model.JobStatusError))
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		_, err := s.Update(ctx, id, func(job *model.Job) error {
			msg := "interrupted by restart"
			now := time.Now().UTC()
			job.Status = model.JobStatusError
			job.Error = &msg
			job.Message = msg
			job.CompletedAt = &now
			job.UpdatedAt = now
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.get(ctx, s.conn, id)
}

func (s *SQLiteStore) Put(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
		job.ID, string(job.Status), string(data),
		job.CreatedAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn MutateFunc) (*model.Job, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), string(data), time.Now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return job, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id string) (*model.Job, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
