package model

import (
	"fmt"
	"strings"
	"time"
)

// PointsAccount is the aggregate root owning a member's earned and used
// totals. Ledger entries are not held here.
type PointsAccount struct {
	eventRecorder

	id               AccountID
	memberID         MemberID
	earned           PointsAmount
	used             PointsAmount
	version          int
	persistedVersion int
	createdAt        time.Time
	updatedAt        time.Time
}

// PointsAccountSnapshot is the flat persisted form of an account.
type PointsAccountSnapshot struct {
	ID           AccountID
	MemberID     MemberID
	EarnedPoints int64
	UsedPoints   int64
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewPointsAccount(memberID MemberID, now time.Time) (*PointsAccount, error) {
	if memberID.IsZero() {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidIdentifier)
	}

	now = now.UTC()
	account := &PointsAccount{
		id:        NewAccountID(),
		memberID:  memberID,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}
	account.record(AccountCreated{
		AccountID: account.id.String(),
		MemberID:  memberID.String(),
		At:        now,
	})
	return account, nil
}

// ReconstructPointsAccount is the only way to rehydrate an account from
// storage. Rows that break an invariant are refused.
func ReconstructPointsAccount(s PointsAccountSnapshot) (*PointsAccount, error) {
	corrupted := func(reason string) error {
		return &CorruptedDataError{Entity: "points_account", ID: s.ID.String(), Reason: reason}
	}

	switch {
	case s.ID.IsZero():
		return nil, corrupted("missing account id")
	case s.MemberID.IsZero():
		return nil, corrupted("missing member id")
	case s.EarnedPoints < 0:
		return nil, corrupted(fmt.Sprintf("earned_points=%d is negative", s.EarnedPoints))
	case s.UsedPoints < 0:
		return nil, corrupted(fmt.Sprintf("used_points=%d is negative", s.UsedPoints))
	case s.UsedPoints > s.EarnedPoints:
		return nil, corrupted(fmt.Sprintf("used_points=%d exceeds earned_points=%d", s.UsedPoints, s.EarnedPoints))
	case s.Version < 1:
		return nil, corrupted(fmt.Sprintf("version=%d is below 1", s.Version))
	}

	return &PointsAccount{
		id:               s.ID,
		memberID:         s.MemberID,
		earned:           PointsAmount{value: s.EarnedPoints},
		used:             PointsAmount{value: s.UsedPoints},
		version:          s.Version,
		persistedVersion: s.Version,
		createdAt:        s.CreatedAt.UTC(),
		updatedAt:        s.UpdatedAt.UTC(),
	}, nil
}

func (a *PointsAccount) ID() AccountID              { return a.id }
func (a *PointsAccount) MemberID() MemberID         { return a.memberID }
func (a *PointsAccount) EarnedPoints() PointsAmount { return a.earned }
func (a *PointsAccount) UsedPoints() PointsAmount   { return a.used }
func (a *PointsAccount) Version() int               { return a.version }
func (a *PointsAccount) CreatedAt() time.Time       { return a.createdAt }
func (a *PointsAccount) LastUpdatedAt() time.Time   { return a.updatedAt }

// PersistedVersion is the version read from storage; writers use it as the
// optimistic-lock predicate. It is zero for an account never stored.
func (a *PointsAccount) PersistedVersion() int { return a.persistedVersion }

func (a *PointsAccount) IsNew() bool { return a.persistedVersion == 0 }

func (a *PointsAccount) HasChanges() bool { return a.version != a.persistedVersion }

// MarkPersisted is called after a successful commit.
func (a *PointsAccount) MarkPersisted() {
	a.persistedVersion = a.version
	a.ClearEvents()
}

// AvailablePoints is earned minus used. A negative result means corrupted
// state and panics.
func (a *PointsAccount) AvailablePoints() PointsAmount {
	return a.earned.subtractUnchecked(a.used)
}

func (a *PointsAccount) EarnPoints(amount PointsAmount, source PointsSource, sourceID, description string, now time.Time) error {
	if !source.Valid() {
		return fmt.Errorf("%w: unknown points source %q", ErrValidation, source)
	}

	now = now.UTC()
	a.earned = a.earned.Add(amount)
	a.touch(now)
	a.record(PointsEarned{
		AccountID:   a.id.String(),
		MemberID:    a.memberID.String(),
		Amount:      amount.Value(),
		Source:      source,
		SourceID:    strings.TrimSpace(sourceID),
		Description: strings.TrimSpace(description),
		EarnedAfter: a.earned.Value(),
		UsedAfter:   a.used.Value(),
		Version:     a.version,
		At:          now,
	})
	return nil
}

func (a *PointsAccount) DeductPoints(amount PointsAmount, reason string, now time.Time) error {
	available := a.AvailablePoints()
	if _, err := available.Subtract(amount); err != nil {
		return err
	}

	now = now.UTC()
	a.used = a.used.Add(amount)
	a.touch(now)
	a.record(PointsDeducted{
		AccountID:   a.id.String(),
		MemberID:    a.memberID.String(),
		Amount:      amount.Value(),
		Reason:      strings.TrimSpace(reason),
		EarnedAfter: a.earned.Value(),
		UsedAfter:   a.used.Value(),
		Version:     a.version,
		At:          now,
	})
	return nil
}

// PreviewRecalculation sums the calculator over the full transaction set
// without touching the account.
func (a *PointsAccount) PreviewRecalculation(transactions []CalculableTransaction, calculator PointsCalculator) (PointsAmount, error) {
	if calculator == nil {
		return ZeroPoints, fmt.Errorf("%w: calculator is required", ErrValidation)
	}

	total := ZeroPoints
	for _, tx := range transactions {
		if tx == nil {
			continue
		}
		points, err := calculator.Calculate(tx)
		if err != nil {
			return ZeroPoints, err
		}
		total = total.Add(points)
	}
	return total, nil
}

// RecalculatePoints replaces earned points with the sum over the full
// transaction set. State is unchanged on any error.
func (a *PointsAccount) RecalculatePoints(transactions []CalculableTransaction, calculator PointsCalculator, now time.Time) error {
	newEarned, err := a.PreviewRecalculation(transactions, calculator)
	if err != nil {
		return err
	}
	if newEarned.LessThan(a.used) {
		return fmt.Errorf("%w: account %s new earned %d, used %d", ErrEarnedBelowUsed, a.id, newEarned.Value(), a.used.Value())
	}

	now = now.UTC()
	oldEarned := a.earned
	a.earned = newEarned
	a.touch(now)
	a.record(PointsRecalculated{
		AccountID: a.id.String(),
		MemberID:  a.memberID.String(),
		OldEarned: oldEarned.Value(),
		NewEarned: newEarned.Value(),
		UsedAfter: a.used.Value(),
		Version:   a.version,
		At:        now,
	})
	return nil
}

func (a *PointsAccount) Snapshot() PointsAccountSnapshot {
	return PointsAccountSnapshot{
		ID:           a.id,
		MemberID:     a.memberID,
		EarnedPoints: a.earned.Value(),
		UsedPoints:   a.used.Value(),
		Version:      a.version,
		CreatedAt:    a.createdAt,
		UpdatedAt:    a.updatedAt,
	}
}

func (a *PointsAccount) touch(now time.Time) {
	a.version++
	a.updatedAt = now
}
