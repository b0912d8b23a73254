package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PointsSource string

const (
	PointsSourceInvoice PointsSource = "invoice"
	PointsSourceSurvey  PointsSource = "survey"
	PointsSourceManual  PointsSource = "manual"
)

func (s PointsSource) Valid() bool {
	switch s {
	case PointsSourceInvoice, PointsSourceSurvey, PointsSourceManual:
		return true
	default:
		return false
	}
}

type LedgerEntryType string

const (
	LedgerEntryEarned       LedgerEntryType = "earned"
	LedgerEntryDeducted     LedgerEntryType = "deducted"
	LedgerEntryRecalculated LedgerEntryType = "recalculated"
)

// PointsLedgerEntry is one point movement. Entries are stored next to the
// account row, never inside the aggregate.
type PointsLedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      AccountID       `json:"account_id"`
	EntryType      LedgerEntryType `json:"entry_type"`
	Delta          int64           `json:"delta"`
	Source         *PointsSource   `json:"source,omitempty"`
	SourceID       *string         `json:"source_id,omitempty"`
	Description    string          `json:"description"`
	EarnedAfter    int64           `json:"earned_after"`
	UsedAfter      int64           `json:"used_after"`
	AccountVersion int             `json:"account_version"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LedgerEntriesFromEvents derives the ledger rows a write must persist
// alongside the account update.
func LedgerEntriesFromEvents(accountID AccountID, events []DomainEvent) []PointsLedgerEntry {
	entries := make([]PointsLedgerEntry, 0, len(events))
	for _, evt := range events {
		switch e := evt.(type) {
		case PointsEarned:
			source := e.Source
			sourceID := strings.TrimSpace(e.SourceID)
			entry := PointsLedgerEntry{
				ID:             uuid.New(),
				AccountID:      accountID,
				EntryType:      LedgerEntryEarned,
				Delta:          e.Amount,
				Source:         &source,
				Description:    e.Description,
				EarnedAfter:    e.EarnedAfter,
				UsedAfter:      e.UsedAfter,
				AccountVersion: e.Version,
				CreatedAt:      e.At,
			}
			if sourceID != "" {
				entry.SourceID = &sourceID
			}
			entries = append(entries, entry)
		case PointsDeducted:
			entries = append(entries, PointsLedgerEntry{
				ID:             uuid.New(),
				AccountID:      accountID,
				EntryType:      LedgerEntryDeducted,
				Delta:          -e.Amount,
				Description:    e.Reason,
				EarnedAfter:    e.EarnedAfter,
				UsedAfter:      e.UsedAfter,
				AccountVersion: e.Version,
				CreatedAt:      e.At,
			})
		case PointsRecalculated:
			entries = append(entries, PointsLedgerEntry{
				ID:             uuid.New(),
				AccountID:      accountID,
				EntryType:      LedgerEntryRecalculated,
				Delta:          e.NewEarned - e.OldEarned,
				Description:    "full recalculation",
				EarnedAfter:    e.NewEarned,
				UsedAfter:      e.UsedAfter,
				AccountVersion: e.Version,
				CreatedAt:      e.At,
			})
		}
	}
	return entries
}
