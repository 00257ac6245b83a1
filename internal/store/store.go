package store

import (
	"context"
	"errors"
	"time"

	"payment-service/internal/models"
)

// ErrNotFound is returned when no transaction matches the given key.
var ErrNotFound = errors.New("transaction not found")

// TerminalResult carries the outcome applied when a transaction leaves
// Pending. Settlement fields are only set for a Completed status.
type TerminalResult struct {
	Status        string
	ResultCode    int
	ResultDesc    string
	ReceiptNumber string
	SettledAmount *float64
	SettledPhone  string
	SettledAt     *time.Time
}

// Acknowledgment is the gateway's synchronous response to an STK push,
// attached to the transaction exactly once during initiation.
type Acknowledgment struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// TransactionStore is the durable record of payment attempts. Implementations
// must make ApplyTerminalResult a single atomic compare-and-set on status so
// duplicate or racing callbacks can never double-apply a result.
type TransactionStore interface {
	Create(ctx context.Context, trx *models.Transaction) error

	// AttachAcknowledgment records the gateway correlation identifiers on a
	// transaction that does not have them yet. It never overwrites an
	// existing acknowledgment.
	AttachAcknowledgment(ctx context.Context, transactionID string, ack Acknowledgment) error

	FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int, limit int) ([]models.Transaction, error)

	// ListStalePending returns Pending transactions created before the cutoff,
	// oldest first, for the reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)

	// ApplyTerminalResult transitions the transaction identified by
	// checkoutRequestID from Pending to the terminal state in res. It returns
	// the resulting row and whether this call performed the transition. When
	// the transaction is already terminal it returns the existing row
	// unchanged with applied=false; that is not an error.
	ApplyTerminalResult(ctx context.Context, checkoutRequestID string, res TerminalResult) (trx *models.Transaction, applied bool, err error)

	// MarkFailed fails a Pending transaction by its system identifier. Used
	// when the gateway call itself fails and no callback will ever arrive.
	MarkFailed(ctx context.Context, transactionID string, resultCode int, resultDesc string) error
}

// CallbackLogStore persists the audit trail of inbound callback deliveries.
type CallbackLogStore interface {
	SaveCallbackLog(ctx context.Context, entry *models.CallbackLog) error
}
