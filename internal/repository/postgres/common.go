package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

var ErrNotFound = repository.ErrNotFound

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
	pgCheckViolation     = "23514"

	constraintEarnedSource = "uq_points_ledger_entries_earned_source"
	constraintRuleNoShare  = "conversion_rules_no_shared_day"
)

type scanTarget interface {
	Scan(dest ...any) error
}

func normalizePagination(page repository.Pagination) (int32, int32) {
	limit := page.Limit
	offset := page.Offset

	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func decodeJSONMap(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func encodeJSONMap(value map[string]interface{}) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

// ensureVersionMatched turns a zero-row optimistic update into a conflict.
func ensureVersionMatched(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return model.ErrConcurrentModification
	}
	return nil
}

// translateWriteError maps constraint violations onto domain errors. Check
// violations mean a write tried to persist a state the aggregate should
// never have produced.
func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.ConstraintName == constraintEarnedSource {
			return repository.ErrDuplicateLedgerSource
		}
		return model.ErrConcurrentModification
	case pgExclusionViolation:
		if pgErr.ConstraintName == constraintRuleNoShare {
			return model.ErrRuleDateRangeOverlap
		}
		return err
	case pgCheckViolation:
		return &model.CorruptedDataError{Entity: pgErr.TableName, Reason: pgErr.ConstraintName}
	default:
		return err
	}
}

func insertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []model.PointsLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO points_ledger_entries (
			id, account_id, entry_type, delta,
			source, source_id, description,
			earned_after, used_after, account_version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	batch := &pgx.Batch{}
	for _, entry := range entries {
		var source *string
		if entry.Source != nil {
			s := string(*entry.Source)
			source = &s
		}
		batch.Queue(
			query,
			entry.ID,
			entry.AccountID.UUID(),
			string(entry.EntryType),
			entry.Delta,
			source,
			entry.SourceID,
			entry.Description,
			entry.EarnedAfter,
			entry.UsedAfter,
			entry.AccountVersion,
			entry.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
