package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bar-crm/internal/model"
	"bar-crm/internal/repository"
)

// transactionSource reads verified_transactions, which the invoice context
// owns and writes.
type transactionSource struct {
	pool *pgxpool.Pool
}

func NewVerifiedTransactionSource(pool *pgxpool.Pool) repository.VerifiedTransactionSource {
	return &transactionSource{pool: pool}
}

var _ repository.VerifiedTransactionSource = (*transactionSource)(nil)

const verifiedTransactionColumns = `
	transaction_id,
	member_id,
	amount::text,
	invoice_date,
	survey_submitted
`

func (s *transactionSource) FindVerifiedByID(ctx context.Context, transactionID string) (*model.VerifiedTransaction, error) {
	query := `SELECT ` + verifiedTransactionColumns + ` FROM verified_transactions WHERE transaction_id = $1`
	tx, err := scanVerifiedTransaction(s.pool.QueryRow(ctx, query, strings.TrimSpace(transactionID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *transactionSource) ListVerifiedByMemberID(ctx context.Context, memberID model.MemberID) ([]model.VerifiedTransaction, error) {
	query := `
		SELECT ` + verifiedTransactionColumns + `
		FROM verified_transactions
		WHERE member_id = $1
		ORDER BY invoice_date ASC, transaction_id ASC
	`
	rows, err := s.pool.Query(ctx, query, memberID.UUID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.VerifiedTransaction, 0)
	for rows.Next() {
		tx, err := scanVerifiedTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanVerifiedTransaction(src scanTarget) (model.VerifiedTransaction, error) {
	var (
		tx       model.VerifiedTransaction
		memberID uuid.UUID
		amount   string
	)

	if err := src.Scan(
		&tx.TransactionID,
		&memberID,
		&amount,
		&tx.InvoiceDate,
		&tx.SurveySubmitted,
	); err != nil {
		return model.VerifiedTransaction{}, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return model.VerifiedTransaction{}, &model.CorruptedDataError{
			Entity: "verified_transaction",
			ID:     tx.TransactionID,
			Reason: fmt.Sprintf("amount %q is not a decimal", amount),
		}
	}
	tx.MemberID = model.MemberID(memberID)
	tx.InvoiceAmount = parsed
	return tx, nil
}
