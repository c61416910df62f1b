package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/praetor-ai/praetor/internal/model"
)

// execer covers both pool and transaction so ledger inserts can join the
// consume transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertLedgerEntry appends one row to the usage ledger. The table is
// append-only: no update or delete statements exist anywhere in this package.
func insertLedgerEntry(ctx context.Context, q execer, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx,
		`INSERT INTO usage_ledger (id, tenant_id, user_id, feature, credits_used, used_trial, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TenantID, entry.UserID, entry.Feature, entry.CreditsUsed, entry.UsedTrial, entry.CreatedAt,
	)
	if err != nil {
		return model.UsageLedgerEntry{}, fmt.Errorf("storage: insert ledger entry: %w", err)
	}
	return entry, nil
}

// InsertLedgerEntry appends a ledger entry outside any transaction.
// Used for BYOK calls, which spend no trial credit.
func (db *DB) InsertLedgerEntry(ctx context.Context, entry model.UsageLedgerEntry) (model.UsageLedgerEntry, error) {
	return insertLedgerEntry(ctx, db.pool, entry)
}

// ListLedgerEntries returns a tenant's ledger entries, newest first,
// for metering and audit views.
func (db *DB) ListLedgerEntries(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.UsageLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, feature, credits_used, used_trial, created_at
		 FROM usage_ledger WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.UsageLedgerEntry
	for rows.Next() {
		var e model.UsageLedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Feature, &e.CreditsUsed, &e.UsedTrial, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
