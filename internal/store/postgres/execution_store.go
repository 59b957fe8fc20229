package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `request_id, user_id, text, status, fill_state, side, order_type,
	token_id, price, size, notional, order_id, tx_hashes, error_kind, message,
	attempts, progress, started_at, finished_at`

// executionRow is the column form of a TradeReport.
type executionRow struct {
	report   domain.TradeReport
	attempts []byte
	progress []byte
}

func toRow(r domain.TradeReport) (executionRow, error) {
	attempts, err := json.Marshal(nonNil(r.Attempts))
	if err != nil {
		return executionRow{}, fmt.Errorf("marshal attempts: %w", err)
	}
	progress, err := json.Marshal(nonNil(r.Progress))
	if err != nil {
		return executionRow{}, fmt.Errorf("marshal progress: %w", err)
	}
	if r.TxHashes == nil {
		r.TxHashes = []string{}
	}
	return executionRow{report: r, attempts: attempts, progress: progress}, nil
}

func (row executionRow) toReport() (domain.TradeReport, error) {
	r := row.report
	if len(row.attempts) > 0 {
		if err := json.Unmarshal(row.attempts, &r.Attempts); err != nil {
			return domain.TradeReport{}, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	if len(row.progress) > 0 {
		if err := json.Unmarshal(row.progress, &r.Progress); err != nil {
			return domain.TradeReport{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	if len(r.TxHashes) == 0 {
		r.TxHashes = nil
	}
	if len(r.Attempts) == 0 {
		r.Attempts = nil
	}
	if len(r.Progress) == 0 {
		r.Progress = nil
	}
	return r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanExecution(row pgx.Row) (domain.TradeReport, error) {
	var er executionRow
	r := &er.report
	if err := row.Scan(
		&r.RequestID, &r.UserID, &r.Text, &r.Status, &r.FillState, &r.Side, &r.OrderType,
		&r.TokenID, &r.Price, &r.Size, &r.Notional, &r.OrderID, &r.TxHashes, &r.ErrorKind, &r.Message,
		&er.attempts, &er.progress, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return domain.TradeReport{}, err
	}
	return er.toReport()
}

// Save upserts a terminal report keyed by request id.
func (s *ExecutionStore) Save(ctx context.Context, report domain.TradeReport) error {
	row, err := toRow(report)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", report.RequestID, err)
	}
	r := row.report

	const query = `
		INSERT INTO executions (` + executionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			fill_state = EXCLUDED.fill_state,
			price = EXCLUDED.price,
			size = EXCLUDED.size,
			notional = EXCLUDED.notional,
			order_id = EXCLUDED.order_id,
			tx_hashes = EXCLUDED.tx_hashes,
			error_kind = EXCLUDED.error_kind,
			message = EXCLUDED.message,
			attempts = EXCLUDED.attempts,
			progress = EXCLUDED.progress,
			finished_at = EXCLUDED.finished_at`

	_, err = s.pool.Exec(ctx, query,
		r.RequestID, r.UserID, r.Text, string(r.Status), r.FillState, string(r.Side), string(r.OrderType),
		r.TokenID, r.Price, r.Size, r.Notional, r.OrderID, r.TxHashes, r.ErrorKind, r.Message,
		row.attempts, row.progress, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", r.RequestID, err)
	}
	return nil
}

// GetByID returns the report for requestID, or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, requestID string) (domain.TradeReport, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionSelectCols+` FROM executions WHERE request_id = $1`, requestID)
	r, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeReport{}, domain.ErrNotFound
		}
		return domain.TradeReport{}, fmt.Errorf("postgres: get execution %s: %w", requestID, err)
	}
	return r, nil
}

// ListByUser returns a user's reports, newest first.
func (s *ExecutionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeReport, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND started_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TradeReport
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
