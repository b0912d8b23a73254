package model

import (
	"strings"

	"github.com/google/uuid"
)

type AccountID uuid.UUID

type MemberID uuid.UUID

type RuleID uuid.UUID

func NewAccountID() AccountID { return AccountID(uuid.New()) }

func NewRuleID() RuleID { return RuleID(uuid.New()) }

func ParseAccountID(raw string) (AccountID, error) {
	id, err := parseUUID(raw)
	return AccountID(id), err
}

func ParseMemberID(raw string) (MemberID, error) {
	id, err := parseUUID(raw)
	return MemberID(id), err
}

func ParseRuleID(raw string) (RuleID, error) {
	id, err := parseUUID(raw)
	return RuleID(id), err
}

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidIdentifier
	}
	return id, nil
}

func (id AccountID) UUID() uuid.UUID { return uuid.UUID(id) }
func (id AccountID) String() string  { return uuid.UUID(id).String() }
func (id AccountID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }

func (id MemberID) UUID() uuid.UUID { return uuid.UUID(id) }
func (id MemberID) String() string  { return uuid.UUID(id).String() }
func (id MemberID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }

func (id RuleID) UUID() uuid.UUID { return uuid.UUID(id) }
func (id RuleID) String() string  { return uuid.UUID(id).String() }
func (id RuleID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id MemberID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id RuleID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(data []byte) error {
	parsed, err := ParseAccountID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *MemberID) UnmarshalText(data []byte) error {
	parsed, err := ParseMemberID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RuleID) UnmarshalText(data []byte) error {
	parsed, err := ParseRuleID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
