// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fawad-mazhar/paros/internal/config"
	"github.com/fawad-mazhar/paros/internal/models"
	_ "github.com/lib/pq"
)

type Client struct {
	db *sql.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// EnsureSchema creates the tasks table and its indexes when missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS tasks (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			input           JSONB,
			params          JSONB,
			status          TEXT NOT NULL,
			retry_count     INT NOT NULL DEFAULT 0,
			max_retries     INT NOT NULL DEFAULT 0,
			engine_id       TEXT NOT NULL DEFAULT '',
			result          JSONB,
			partial_results JSONB,
			failure_reason  TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status)`

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Task related functions

func (c *Client) SaveTask(ctx context.Context, task *models.Task) error {
	input, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	params, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	var partials []byte
	if task.PartialResults != nil {
		if partials, err = json.Marshal(task.PartialResults); err != nil {
			return fmt.Errorf("failed to marshal partial results: %w", err)
		}
	}

	query := `
		INSERT INTO tasks
		(id, type, input, params, status, retry_count, max_retries, engine_id,
		 result, partial_results, failure_reason, created_at, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			engine_id = EXCLUDED.engine_id,
			result = EXCLUDED.result,
			partial_results = EXCLUDED.partial_results,
			failure_reason = EXCLUDED.failure_reason,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`

	_, err = c.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		input,
		params,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		task.EngineID,
		result,
		partials,
		task.FailureReason,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		task.UpdatedAt,
	)
	return err
}

func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT type, input, params, status, retry_count, max_retries, engine_id,
			result, partial_results, failure_reason, created_at, started_at, completed_at, updated_at
		FROM tasks
		WHERE id = $1`

	return c.scanTask(c.db.QueryRowContext(ctx, query, id), id)
}

// ClaimTask atomically takes ownership of a runnable task. The status guard
// makes claims by competing engines race safely: only one UPDATE matches.
func (c *Client) ClaimTask(ctx context.Context, id, engineID string) (bool, error) {
	query := `
		UPDATE tasks
		SET engine_id = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING id`

	var claimed string
	err := c.db.QueryRowContext(ctx, query,
		id,
		engineID,
		models.TaskStatusPending,
		models.TaskStatusRetrying,
	).Scan(&claimed)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimStaleTask takes over a task stuck in PROCESSING longer than
// staleAfter. Bumping updated_at keeps a second engine from recovering the
// same task concurrently.
func (c *Client) ClaimStaleTask(ctx context.Context, id, engineID string, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE tasks
		SET engine_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND updated_at < NOW() - ($4 * INTERVAL '1 second')
		RETURNING id`

	var claimed string
	err := c.db.QueryRowContext(ctx, query,
		id,
		engineID,
		models.TaskStatusProcessing,
		int(staleAfter.Seconds()),
	).Scan(&claimed)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) GetInProgressTasks(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id
		FROM tasks
		WHERE status = $1
		ORDER BY updated_at`

	rows, err := c.db.QueryContext(ctx, query, models.TaskStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (c *Client) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM tasks
		GROUP BY status`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (c *Client) scanTask(row *sql.Row, id string) (*models.Task, error) {
	task := &models.Task{ID: id}
	var input, params, result, partials []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.Type,
		&input,
		&params,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.EngineID,
		&result,
		&partials,
		&task.FailureReason,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrTaskNotFound
		}
		return nil, err
	}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &task.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &task.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if len(partials) > 0 {
		if err := json.Unmarshal(partials, &task.PartialResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal partial results: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}
