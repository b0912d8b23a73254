package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

type pointsAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPointsAccountRepository(pool *pgxpool.Pool) repository.PointsAccountRepository {
	return &pointsAccountRepository{pool: pool}
}

var _ repository.PointsAccountRepository = (*pointsAccountRepository)(nil)

const pointsAccountColumns = `
	id,
	member_id,
	earned_points,
	used_points,
	version,
	created_at,
	updated_at
`

func (r *pointsAccountRepository) FindByID(ctx context.Context, id model.AccountID) (*model.PointsAccount, error) {
	query := `SELECT ` + pointsAccountColumns + ` FROM points_accounts WHERE id = $1`
	account, err := scanPointsAccount(r.pool.QueryRow(ctx, query, id.UUID()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *pointsAccountRepository) FindByMemberID(ctx context.Context, memberID model.MemberID) (*model.PointsAccount, error) {
	query := `SELECT ` + pointsAccountColumns + ` FROM points_accounts WHERE member_id = $1`
	account, err := scanPointsAccount(r.pool.QueryRow(ctx, query, memberID.UUID()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *pointsAccountRepository) ExistsByMemberID(ctx context.Context, memberID model.MemberID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM points_accounts WHERE member_id = $1)`, memberID.UUID()).Scan(&exists)
	return exists, err
}

func (r *pointsAccountRepository) Create(ctx context.Context, account *model.PointsAccount) error {
	if account == nil {
		return fmt.Errorf("%w: account is required", model.ErrValidation)
	}
	if !account.IsNew() {
		return fmt.Errorf("%w: account %s is already persisted", model.ErrValidation, account.ID())
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s := account.Snapshot()
	query := `
		INSERT INTO points_accounts (
			id, member_id, earned_points, used_points,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		s.ID.UUID(),
		s.MemberID.UUID(),
		s.EarnedPoints,
		s.UsedPoints,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	); err != nil {
		return translateWriteError(err)
	}

	if err := insertLedgerEntries(ctx, tx, model.LedgerEntriesFromEvents(s.ID, account.PendingEvents())); err != nil {
		return translateWriteError(err)
	}

	return tx.Commit(ctx)
}

func (r *pointsAccountRepository) UpdateWithOptimisticLock(ctx context.Context, account *model.PointsAccount, expectedPreviousVersion int) error {
	if account == nil {
		return fmt.Errorf("%w: account is required", model.ErrValidation)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s := account.Snapshot()
	query := `
		UPDATE points_accounts
		SET earned_points = $3,
			used_points = $4,
			version = $5,
			updated_at = $6
		WHERE id = $1 AND version = $2
	`
	tag, err := tx.Exec(ctx, query,
		s.ID.UUID(),
		expectedPreviousVersion,
		s.EarnedPoints,
		s.UsedPoints,
		s.Version,
		s.UpdatedAt,
	)
	if err != nil {
		return translateWriteError(err)
	}
	if err := ensureVersionMatched(tag); err != nil {
		return err
	}

	if err := insertLedgerEntries(ctx, tx, model.LedgerEntriesFromEvents(s.ID, account.PendingEvents())); err != nil {
		return translateWriteError(err)
	}

	return tx.Commit(ctx)
}

func (r *pointsAccountRepository) FindAll(ctx context.Context, page repository.Pagination) ([]*model.PointsAccount, error) {
	limit, offset := normalizePagination(page)
	query := `
		SELECT ` + pointsAccountColumns + `
		FROM points_accounts
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`
	return r.queryAccounts(ctx, query, limit, offset)
}

func (r *pointsAccountRepository) ListIDs(ctx context.Context, page repository.Pagination) ([]model.AccountID, error) {
	limit, offset := normalizePagination(page)
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM points_accounts
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	out := make([]model.AccountID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.AccountID(id))
	}
	return out, nil
}

func (r *pointsAccountRepository) FindByMemberIDs(ctx context.Context, memberIDs []model.MemberID, page repository.Pagination) ([]*model.PointsAccount, error) {
	if len(memberIDs) == 0 {
		return []*model.PointsAccount{}, nil
	}

	ids := make([]uuid.UUID, 0, len(memberIDs))
	for _, id := range memberIDs {
		ids = append(ids, id.UUID())
	}

	limit, offset := normalizePagination(page)
	query := `
		SELECT ` + pointsAccountColumns + `
		FROM points_accounts
		WHERE member_id = ANY($1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`
	return r.queryAccounts(ctx, query, ids, limit, offset)
}

func (r *pointsAccountRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM points_accounts`).Scan(&total)
	return total, err
}

func (r *pointsAccountRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]*model.PointsAccount, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*model.PointsAccount, 0)
	for rows.Next() {
		item, err := scanPointsAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func scanPointsAccount(src scanTarget) (*model.PointsAccount, error) {
	var (
		id       uuid.UUID
		memberID uuid.UUID
		s        model.PointsAccountSnapshot
	)

	if err := src.Scan(
		&id,
		&memberID,
		&s.EarnedPoints,
		&s.UsedPoints,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.ID = model.AccountID(id)
	s.MemberID = model.MemberID(memberID)
	return model.ReconstructPointsAccount(s)
}
