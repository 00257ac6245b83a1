package models

import (
	"time"
)

// Transaction statuses
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// Transaction is one STK push attempt. A retried payment always creates a new
// row; rows are never deleted. CheckoutRequestID is the sole correlation key
// for gateway callbacks and is unique across all rows.
type Transaction struct {
	ID                  uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID       string     `gorm:"column:transaction_id;size:36;not null;uniqueIndex" json:"transaction_id"`
	UserID              int        `gorm:"column:user_id;not null;index" json:"user_id"`
	PhoneNumber         string     `gorm:"column:phone_number;size:15;not null" json:"phone_number"`
	Amount              float64    `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Reference           string     `gorm:"column:reference;size:255;not null" json:"reference"`
	Description         string     `gorm:"column:description;size:255" json:"description"`
	MerchantRequestID   string     `gorm:"column:merchant_request_id;size:255" json:"merchant_request_id"`
	// Nullable so rows that never received an acknowledgment do not collide
	// on the unique index.
	CheckoutRequestID *string `gorm:"column:checkout_request_id;size:255;uniqueIndex" json:"checkout_request_id"`
	ResponseCode        string     `gorm:"column:response_code;size:10" json:"response_code"`
	ResponseDescription string     `gorm:"column:response_description;size:255" json:"response_description"`
	CustomerMessage     string     `gorm:"column:customer_message;size:255" json:"customer_message"`
	Status              string     `gorm:"column:status;size:20;not null;default:Pending;index" json:"status"`
	ResultCode          *int       `gorm:"column:result_code" json:"result_code"`
	ResultDesc          string     `gorm:"column:result_desc;size:255" json:"result_desc"`
	ReceiptNumber       string     `gorm:"column:receipt_number;size:50" json:"receipt_number"`
	SettledAmount       *float64   `gorm:"column:settled_amount;type:decimal(20,2)" json:"settled_amount"`
	SettledPhone        string     `gorm:"column:settled_phone;size:15" json:"settled_phone"`
	SettledAt           *time.Time `gorm:"column:settled_at" json:"settled_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "mpesa_transactions"
}

// IsTerminal reports whether the transaction has reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
