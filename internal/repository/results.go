package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/PlanCheck/internal/model"
)

// ErrNotFound is returned when no history row matches.
var ErrNotFound = errors.New("validation result not found")

// Entry is one row of the validation_results table.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	model.ValidationResult
}

// ResultRepository wraps all SQL used by the CLI, dashboard and worker to
// keep a history of validations.
type ResultRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewResultRepository constructs a repository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool, now: time.Now}
}

// SaveResult appends a completed validation. Re-validating the same file
// adds a new row; history is never rewritten.
func (r *ResultRepository) SaveResult(ctx context.Context, result model.ValidationResult) error {
	cols, err := encodeLists(result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO validation_results (id, file_id, filename, score, total_criteria, passed_criteria, status,
			processed_time, categories, issues, recommendations, strengths, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, uuid.NewString(), result.FileID, result.Filename, result.Score, result.TotalCriteria, result.PassedCriteria,
		string(result.Status), result.ProcessedTime, cols[0], cols[1], cols[2], cols[3], r.now().UTC())
	if err != nil {
		return fmt.Errorf("insert validation result: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit <= 0 returns everything.
func (r *ResultRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select validation results: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation results: %w", err)
	}
	return entries, nil
}

// Latest returns the most recent entry for a file.
func (r *ResultRepository) Latest(ctx context.Context, fileID string) (*Entry, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE file_id=$1 ORDER BY created_at DESC LIMIT 1`, fileID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", fileID, ErrNotFound)
		}
		return nil, err
	}
	return &entry, nil
}

// Results strips the row metadata, oldest first, ready for export.
func Results(entries []Entry) []model.ValidationResult {
	out := make([]model.ValidationResult, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].ValidationResult.Clone())
	}
	return out
}

const selectColumns = `
	SELECT id, file_id, filename, score, total_criteria, passed_criteria, status, processed_time,
		categories, issues, recommendations, strengths, created_at
	FROM validation_results`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry  Entry
		status string
		lists  [4][]byte
	)
	err := row.Scan(&entry.ID, &entry.FileID, &entry.Filename, &entry.Score, &entry.TotalCriteria,
		&entry.PassedCriteria, &status, &entry.ProcessedTime, &lists[0], &lists[1], &lists[2], &lists[3],
		&entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan validation result: %w", err)
	}
	entry.Status = model.ResultStatus(status)
	if err := decodeLists(&entry.ValidationResult, lists); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", entry.ID, err)
	}
	return entry, nil
}

// encodeLists marshals the JSONB columns in table order: categories, issues,
// recommendations, strengths. nil slices are stored as [].
func encodeLists(result model.ValidationResult) ([4][]byte, error) {
	var out [4][]byte
	values := [4]any{
		orEmptyCategories(result.Categories),
		orEmpty(result.Issues),
		orEmpty(result.Recommendations),
		orEmpty(result.Strengths),
	}
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("encode result lists: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

func decodeLists(result *model.ValidationResult, lists [4][]byte) error {
	result.Categories = []model.Category{}
	result.Issues = []string{}
	result.Recommendations = []string{}
	result.Strengths = []string{}
	targets := [4]any{&result.Categories, &result.Issues, &result.Recommendations, &result.Strengths}
	for i, raw := range lists {
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return err
		}
	}
	return nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func orEmptyCategories(in []model.Category) []model.Category {
	if in == nil {
		return []model.Category{}
	}
	return in
}
