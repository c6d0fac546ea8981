package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OpDatasetUpload OperationType = "dataset_upload"
	OpInference     OperationType = "inference"
	OpAdminRecharge OperationType = "admin_recharge"
)

type TransactionStatus string

const (
	// TxPending is the only non-terminal status. A pending row mirrors a
	// live reservation; it transitions to exactly one terminal status.
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRefunded  TransactionStatus = "refunded"
	TxAborted   TransactionStatus = "aborted"
)

// Transaction is the durable, immutable-once-finalized audit record for
// every balance movement. Amount is signed: negative for debits, positive
// for credits.
type Transaction struct {
	ID             string
	UserID         string
	OperationType  OperationType
	OperationID    string
	Amount         decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	Status         TransactionStatus
	ReservationKey string
	ValidUntil     *time.Time
	Description    string
	CreatedAt      time.Time
}

func (t *Transaction) IsTerminal() bool {
	return t.Status != TxPending
}
