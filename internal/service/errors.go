package service

import "errors"

var (
	ErrAccountNotFound     = errors.New("points account not found")
	ErrRuleNotFound        = errors.New("conversion rule not found")
	ErrTransactionNotFound = errors.New("verified transaction not found")

	ErrRecalculationInProgress      = errors.New("recalculation already in progress")
	ErrRecalculationBlocked         = errors.New("recalculation blocked: accounts would end with earned below used")
	ErrRecalculationPartiallyFailed = errors.New("recalculation partially failed")
)
