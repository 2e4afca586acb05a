package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

type PostgresArchiveRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresArchiveRepository(ctx context.Context, databaseURL string) (*PostgresArchiveRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresArchiveRepository{pool: pool}, nil
}

func (r *PostgresArchiveRepository) Close() {
	r.pool.Close()
}

func (r *PostgresArchiveRepository) SaveAggregation(ctx context.Context, record *AggregationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO aggregations (
			job_id,
			wallet_group_id,
			status,
			expected_total,
			succeeded,
			failed,
			timed_out,
			wallet,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			expected_total = EXCLUDED.expected_total,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			timed_out = EXCLUDED.timed_out,
			wallet = EXCLUDED.wallet,
			completed_at = EXCLUDED.completed_at
	`,
		record.JobID,
		record.WalletGroupID,
		string(record.Status),
		record.ExpectedTotal,
		record.Succeeded,
		record.Failed,
		record.TimedOut,
		record.Wallet,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert aggregation: %w", err)
	}
	return nil
}

func (r *PostgresArchiveRepository) GetAggregation(ctx context.Context, jobID string) (*AggregationRecord, error) {
	var (
		record AggregationRecord
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT job_id, wallet_group_id, status, expected_total, succeeded, failed, timed_out, wallet, completed_at
		FROM aggregations
		WHERE job_id = $1
	`, jobID).Scan(
		&record.JobID,
		&record.WalletGroupID,
		&status,
		&record.ExpectedTotal,
		&record.Succeeded,
		&record.Failed,
		&record.TimedOut,
		&record.Wallet,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query aggregation: %w", err)
	}
	record.Status = domain.JobStatus(status)
	return &record, nil
}
