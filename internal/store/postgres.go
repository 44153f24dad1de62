package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/videojobs/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, correlation_id, prompt, channel_id, channel_name, title, idea_text, status,
	local_path, request_message_id, reply_message_id, drive_file_id, web_view_link, web_content_link,
	error_message, created_at, updated_at`

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.VideoJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO video_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		job.ID, job.CorrelationID, job.Prompt, job.ChannelID, job.ChannelName, job.Title, job.IdeaText,
		string(job.Status), job.LocalPath, job.RequestMessageID, job.ReplyMessageID, job.DriveFileID,
		job.WebViewLink, job.WebContentLink, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob locks the row, applies the update in Go and writes every mutable
// column back, so concurrent writers on other instances serialize on the row lock.
func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.VideoJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}

	changed, err := applyJobUpdate(job, time.Now().UTC(), opts)
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE video_jobs SET status = $2, title = $3, local_path = $4, request_message_id = $5,
		   reply_message_id = $6, drive_file_id = $7, web_view_link = $8, web_content_link = $9,
		   error_message = $10, updated_at = $11
		 WHERE id = $1`,
		job.ID, string(job.Status), job.Title, job.LocalPath, job.RequestMessageID, job.ReplyMessageID,
		job.DriveFileID, job.WebViewLink, job.WebContentLink, job.ErrorMessage, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.VideoJob, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.ChannelID != "" {
		conditions = append(conditions, fmt.Sprintf("channel_id = $%d", argIdx))
		args = append(args, filter.ChannelID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}
	if !filter.UpdatedBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("updated_at < $%d", argIdx))
		args = append(args, filter.UpdatedBefore)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM video_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.VideoJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountNonTerminalJobs counts jobs of channelID that have not reached a
// terminal status. An empty channelID counts across all jobs.
func (s *PostgresStore) CountNonTerminalJobs(ctx context.Context, channelID string) (int, error) {
	query := `SELECT COUNT(*) FROM video_jobs WHERE status = ANY($1)`
	args := []any{statusStrings(models.NonTerminalStatuses())}
	if channelID != "" {
		query += ` AND channel_id = $2`
		args = append(args, channelID)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count non-terminal jobs: %w", err)
	}
	return count, nil
}

// --- Channels ---

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	var c models.Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, base_prompt, prompt_template, drive_folder_id, created_at, updated_at
		 FROM channels WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.BasePrompt, &c.PromptTemplate, &c.DriveFolderID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &c, nil
}

func scanJob(row pgx.Row) (*models.VideoJob, error) {
	var j models.VideoJob
	var status string
	if err := row.Scan(&j.ID, &j.CorrelationID, &j.Prompt, &j.ChannelID, &j.ChannelName, &j.Title,
		&j.IdeaText, &status, &j.LocalPath, &j.RequestMessageID, &j.ReplyMessageID, &j.DriveFileID,
		&j.WebViewLink, &j.WebContentLink, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
