package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculableTransaction is everything point calculation needs to know about a
// purchase. The invoice context satisfies it without this package importing
// its types.
type CalculableTransaction interface {
	Amount() decimal.Decimal
	TransactionDate() time.Time
	SurveyCompleted() bool
}

// PointsCalculator turns one transaction into points. Implementations are
// bound to a rule lookup by the service layer.
type PointsCalculator interface {
	Calculate(tx CalculableTransaction) (PointsAmount, error)
}

type PointsCalculatorFunc func(tx CalculableTransaction) (PointsAmount, error)

func (f PointsCalculatorFunc) Calculate(tx CalculableTransaction) (PointsAmount, error) {
	return f(tx)
}

// VerifiedTransaction is the read model of a verified invoice owned by the
// invoice context.
type VerifiedTransaction struct {
	TransactionID   string          `json:"transaction_id"`
	MemberID        MemberID        `json:"member_id"`
	InvoiceAmount   decimal.Decimal `json:"amount"`
	InvoiceDate     time.Time       `json:"invoice_date"`
	SurveySubmitted bool            `json:"survey_submitted"`
}

func (t VerifiedTransaction) Amount() decimal.Decimal    { return t.InvoiceAmount }
func (t VerifiedTransaction) TransactionDate() time.Time { return t.InvoiceDate }
func (t VerifiedTransaction) SurveyCompleted() bool      { return t.SurveySubmitted }

var _ CalculableTransaction = VerifiedTransaction{}
