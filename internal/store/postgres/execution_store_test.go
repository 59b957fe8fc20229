package postgres

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

func TestExecutionRowRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := domain.TradeReport{
		RequestID: "req-1",
		UserID:    "alice",
		Status:    domain.TradeStatusSuccess,
		Price:     decimal.RequireFromString("0.5"),
		TxHashes:  []string{"0xtx"},
		Attempts: []domain.ExecutionAttempt{{
			Number:         1,
			Classification: domain.ClassSuccess,
			Result:         &domain.SubmitResult{OrderID: "0xo", Status: "matched"},
			At:             now,
		}},
		Progress:  []domain.ProgressEvent{{RequestID: "req-1", Stage: domain.StageDone, Time: now}},
		StartedAt: now,
	}

	row, err := toRow(report)
	require.NoError(t, err)
	got, err := row.toReport()
	require.NoError(t, err)

	assert.Equal(t, report.Attempts[0].Result, got.Attempts[0].Result)
	assert.Equal(t, report.Progress, got.Progress)
	assert.Equal(t, report.TxHashes, got.TxHashes)
}

func TestExecutionRowEmptyCollections(t *testing.T) {
	row, err := toRow(domain.TradeReport{RequestID: "req-2"})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(row.attempts))
	assert.JSONEq(t, `[]`, string(row.progress))
	assert.Equal(t, []string{}, row.report.TxHashes)

	got, err := row.toReport()
	require.NoError(t, err)
	assert.Nil(t, got.TxHashes)
	assert.Nil(t, got.Attempts)
	assert.Nil(t, got.Progress)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "app"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
