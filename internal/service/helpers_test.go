package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bar-crm/internal/event"
	"bar-crm/internal/model"
	"bar-crm/internal/repository/memory"
)

var testNow = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type recordedAlert struct {
	kind AlertKind
	vars map[string]string
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (f *fakeAlerter) Notify(_ context.Context, kind AlertKind, vars map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, recordedAlert{kind: kind, vars: cloneStringMap(vars)})
	return nil
}

func (f *fakeAlerter) kinds() []AlertKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AlertKind, 0, len(f.alerts))
	for _, alert := range f.alerts {
		out = append(out, alert.kind)
	}
	return out
}

func (f *fakeAlerter) has(kind AlertKind) bool {
	for _, got := range f.kinds() {
		if got == kind {
			return true
		}
	}
	return false
}

// last returns the vars of the most recent alert of kind.
func (f *fakeAlerter) last(kind AlertKind) (map[string]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.alerts) - 1; i >= 0; i-- {
		if f.alerts[i].kind == kind {
			return f.alerts[i].vars, true
		}
	}
	return nil, false
}

type testEnv struct {
	store    *memory.Store
	bus      *event.Bus
	alerts   *fakeAlerter
	calc     *PointsCalculationService
	points   *PointsService
	rules    *ConversionRuleService
	recalc   *PointsRecalculationService
	audit    *AuditService
	clockNow time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	bus := event.NewBus()
	alerts := &fakeAlerter{}
	logger := zap.NewNop()

	calc := NewPointsCalculationService(store.Rules(), logger)
	env := &testEnv{
		store:    store,
		bus:      bus,
		alerts:   alerts,
		calc:     calc,
		points:   NewPointsService(store.Accounts(), store.Ledger(), store.Transactions(), calc, bus, alerts, logger),
		rules:    NewConversionRuleService(store.Rules(), bus, logger),
		recalc:   NewPointsRecalculationService(store.Accounts(), store.Rules(), store.Transactions(), store.Locker(), calc, bus, alerts, logger),
		audit:    NewAuditService(store.Audit(), logger),
		clockNow: testNow,
	}

	clock := func() time.Time { return env.clockNow }
	env.points.now = clock
	env.rules.now = clock
	env.recalc.now = clock
	return env
}

func (e *testEnv) createRule(t *testing.T, rate int, start, end string) *RuleView {
	t.Helper()

	view, err := e.rules.Create(context.Background(), CreateRuleInput{Rate: rate, StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("create rule %d %s..%s: %v", rate, start, end, err)
	}
	return view
}

// verify records a verified transaction in the invoice read model and
// delivers the matching event to the intake service.
func (e *testEnv) verify(t *testing.T, memberID model.MemberID, amount string, invoiceDate time.Time, survey bool) (string, *IntakeResult) {
	t.Helper()

	txID := "inv-" + uuid.NewString()
	value := decimal.RequireFromString(amount)
	e.store.Transactions().Put(model.VerifiedTransaction{
		TransactionID:   txID,
		MemberID:        memberID,
		InvoiceAmount:   value,
		InvoiceDate:     invoiceDate,
		SurveySubmitted: survey,
	})

	result, err := e.points.HandleTransactionVerified(context.Background(), TransactionVerifiedInput{
		TransactionID:   txID,
		MemberID:        memberID.String(),
		Amount:          value,
		InvoiceDate:     invoiceDate,
		SurveySubmitted: survey,
	})
	if err != nil {
		t.Fatalf("HandleTransactionVerified(%s): %v", amount, err)
	}
	return txID, result
}

func (e *testEnv) summary(t *testing.T, memberID model.MemberID) *AccountSummary {
	t.Helper()

	summary, err := e.points.GetAccountSummary(context.Background(), memberID.String())
	if err != nil {
		t.Fatalf("GetAccountSummary: %v", err)
	}
	return summary
}

func newMemberID() model.MemberID {
	return model.MemberID(uuid.New())
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
