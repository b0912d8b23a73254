package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type ledgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) repository.PointsLedgerReader {
	return &ledgerRepository{pool: pool}
}

var _ repository.PointsLedgerReader = (*ledgerRepository)(nil)

const ledgerColumns = `
	id,
	account_id,
	entry_type,
	delta,
	source,
	source_id,
	description,
	earned_after,
	used_after,
	account_version,
	created_at
`

func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID model.AccountID, page repository.Pagination) ([]model.PointsLedgerEntry, error) {
	limit, offset := normalizePagination(page)
	query := `
		SELECT ` + ledgerColumns + `
		FROM points_ledger_entries
		WHERE account_id = $1
		ORDER BY account_version DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, accountID.UUID(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.PointsLedgerEntry, 0, limit)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *ledgerRepository) CountByAccount(ctx context.Context, accountID model.AccountID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM points_ledger_entries WHERE account_id = $1`, accountID.UUID()).Scan(&total)
	return total, err
}

func (r *ledgerRepository) ExistsBySource(ctx context.Context, source model.PointsSource, sourceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM points_ledger_entries
			WHERE entry_type = 'earned' AND source = $1 AND source_id = $2
		)
	`
	var exists bool
	err := r.pool.QueryRow(ctx, query, string(source), strings.TrimSpace(sourceID)).Scan(&exists)
	return exists, err
}

func scanLedgerEntry(src scanTarget) (model.PointsLedgerEntry, error) {
	var (
		entry     model.PointsLedgerEntry
		accountID uuid.UUID
		entryType string
		source    *string
	)

	err := src.Scan(
		&entry.ID,
		&accountID,
		&entryType,
		&entry.Delta,
		&source,
		&entry.SourceID,
		&entry.Description,
		&entry.EarnedAfter,
		&entry.UsedAfter,
		&entry.AccountVersion,
		&entry.CreatedAt,
	)
	if err != nil {
		return model.PointsLedgerEntry{}, err
	}

	entry.AccountID = model.AccountID(accountID)
	entry.EntryType = model.LedgerEntryType(entryType)
	if source != nil {
		s := model.PointsSource(*source)
		entry.Source = &s
	}
	return entry, nil
}
