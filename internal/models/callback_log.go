package models

import (
	"time"
)

// CallbackLog records every inbound gateway callback delivery, including
// duplicates and deliveries we could not match to a transaction. Operators
// use it to chase unsolicited or re-delivered notifications.
type CallbackLog struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CheckoutRequestID string    `gorm:"column:checkout_request_id;size:255;index" json:"checkout_request_id"`
	Request           string    `gorm:"column:request;type:longtext" json:"request"`
	Response          string    `gorm:"column:response;type:longtext" json:"response"`
	Outcome           string    `gorm:"column:outcome;size:50" json:"outcome"`
	PaymentMethod     string    `gorm:"column:payment_method;size:50;default:Mpesa" json:"payment_method"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (CallbackLog) TableName() string {
	return "callback_logs"
}

// Callback log outcomes
const (
	CallbackOutcomeApplied        = "Applied"
	CallbackOutcomeAlreadySettled = "AlreadySettled"
	CallbackOutcomeNotFound       = "NotFound"
	CallbackOutcomeMalformed      = "Malformed"
	CallbackOutcomeError          = "Error"
)
