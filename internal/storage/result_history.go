package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// ResultFilter narrows a history listing.
type ResultFilter struct {
	ProjectID string
	VersionID string
	Status    model.ExecutionStatus
}

// ResultStorage defines the interface for durable execution-result
// history. The core depends only on this interface; in-memory and SQLite
// implementations are provided.
type ResultStorage interface {
	// Store persists one execution result.
	Store(ctx context.Context, result *model.ExecutionResult) error

	// Get retrieves a result by ID.
	Get(ctx context.Context, id string) (*model.ExecutionResult, error)

	// List retrieves results matching the filter with pagination,
	// newest first.
	List(ctx context.Context, filter ResultFilter, offset, limit int) ([]*model.ExecutionResult, error)

	// Count returns the number of results matching the filter.
	Count(ctx context.Context, filter ResultFilter) (int, error)

	// DeleteBefore deletes results created before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases the underlying store.
	Close() error
}

// SQLiteResultStorage implements ResultStorage using SQLite.
type SQLiteResultStorage struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteResultStorage opens (or creates) a SQLite-backed history at dbPath.
func NewSQLiteResultStorage(logger *zap.Logger, dbPath string) (*SQLiteResultStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteResultStorage{
		logger: logger.Named("result-storage"),
		db:     db,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteResultStorage) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_results (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			version_id TEXT NOT NULL,
			status TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL,
			peak_memory_bytes INTEGER NOT NULL,
			api_call_count INTEGER NOT NULL,
			errors TEXT,
			performance TEXT,
			logs TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_project ON execution_results(project_id, version_id);
		CREATE INDEX IF NOT EXISTS idx_results_status ON execution_results(status);
		CREATE INDEX IF NOT EXISTS idx_results_created_at ON execution_results(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements ResultStorage.Store.
func (s *SQLiteResultStorage) Store(ctx context.Context, result *model.ExecutionResult) error {
	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	perfJSON, err := json.Marshal(result.PerformanceMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal performance metrics: %w", err)
	}
	logsJSON, err := json.Marshal(result.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_results (
			id, project_id, version_id, status, execution_time_ms,
			peak_memory_bytes, api_call_count, errors, performance, logs,
			created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.ProjectID,
		result.VersionID,
		result.Status,
		result.ExecutionTimeMs,
		int64(result.PeakMemoryBytes),
		result.APICallCount,
		string(errorsJSON),
		string(perfJSON),
		string(logsJSON),
		result.CreatedAt,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store execution result: %w", err)
	}
	return nil
}

// Get implements ResultStorage.Get.
func (s *SQLiteResultStorage) Get(ctx context.Context, id string) (*model.ExecutionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, version_id, status, execution_time_ms,
			peak_memory_bytes, api_call_count, errors, performance, logs,
			created_at, completed_at
		FROM execution_results
		WHERE id = ?`, id)

	result, err := scanResult(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return result, err
}

// List implements ResultStorage.List.
func (s *SQLiteResultStorage) List(ctx context.Context, filter ResultFilter, offset, limit int) ([]*model.ExecutionResult, error) {
	query, args := buildWhere(`
		SELECT id, project_id, version_id, status, execution_time_ms,
			peak_memory_bytes, api_call_count, errors, performance, logs,
			created_at, completed_at
		FROM execution_results`, filter)
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution results: %w", err)
	}
	defer rows.Close()

	var results []*model.ExecutionResult
	for rows.Next() {
		result, err := scanResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// Count implements ResultStorage.Count.
func (s *SQLiteResultStorage) Count(ctx context.Context, filter ResultFilter) (int, error) {
	query, args := buildWhere("SELECT COUNT(*) FROM execution_results", filter)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count execution results: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ResultStorage.DeleteBefore.
func (s *SQLiteResultStorage) DeleteBefore(ctx context.Context, before time.Time) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM execution_results WHERE created_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete execution results: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	s.logger.Info("Deleted old execution results",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}

// Close closes the database connection.
func (s *SQLiteResultStorage) Close() error {
	return s.db.Close()
}

func buildWhere(query string, filter ResultFilter) (string, []interface{}) {
	var args []interface{}
	var clauses []string
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.VersionID != "" {
		clauses = append(clauses, "version_id = ?")
		args = append(args, filter.VersionID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	return query, args
}

func scanResult(scan func(dest ...interface{}) error) (*model.ExecutionResult, error) {
	var result model.ExecutionResult
	var peakMemory int64
	var errorsJSON, perfJSON, logsJSON sql.NullString

	err := scan(
		&result.ID,
		&result.ProjectID,
		&result.VersionID,
		&result.Status,
		&result.ExecutionTimeMs,
		&peakMemory,
		&result.APICallCount,
		&errorsJSON,
		&perfJSON,
		&logsJSON,
		&result.CreatedAt,
		&result.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan execution result: %w", err)
	}

	result.PeakMemoryBytes = uint64(peakMemory)
	result.Errors = []model.ExecutionError{}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &result.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	if perfJSON.Valid && perfJSON.String != "" {
		if err := json.Unmarshal([]byte(perfJSON.String), &result.PerformanceMetrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal performance metrics: %w", err)
		}
	}
	if logsJSON.Valid && logsJSON.String != "" {
		if err := json.Unmarshal([]byte(logsJSON.String), &result.Logs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
		}
	}
	return &result, nil
}
