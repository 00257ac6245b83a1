package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"payment-service/internal/models"
)

// GormStore backs the transaction store with MySQL. The terminal transition
// is a single status-guarded UPDATE, so the database row lock is the only
// synchronization between racing callbacks.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Create(ctx context.Context, trx *models.Transaction) error {
	return s.DB.WithContext(ctx).Create(trx).Error
}

func (s *GormStore) AttachAcknowledgment(ctx context.Context, transactionID string, ack Acknowledgment) error {
	res := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("transaction_id = ? AND checkout_request_id IS NULL", transactionID).
		Updates(map[string]interface{}{
			"merchant_request_id":  ack.MerchantRequestID,
			"checkout_request_id":  ack.CheckoutRequestID,
			"response_code":        ack.ResponseCode,
			"response_description": ack.ResponseDescription,
			"customer_message":     ack.CustomerMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (s *GormStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID int, limit int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (s *GormStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (s *GormStore) ApplyTerminalResult(ctx context.Context, checkoutRequestID string, result TerminalResult) (*models.Transaction, bool, error) {
	updates := map[string]interface{}{
		"status":      result.Status,
		"result_code": result.ResultCode,
		"result_desc": result.ResultDesc,
	}
	if result.Status == models.StatusCompleted {
		updates["receipt_number"] = result.ReceiptNumber
		updates["settled_amount"] = result.SettledAmount
		updates["settled_phone"] = result.SettledPhone
		updates["settled_at"] = result.SettledAt
	}

	res := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}

	trx, err := s.FindByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return nil, false, err
	}
	return trx, res.RowsAffected > 0, nil
}

func (s *GormStore) MarkFailed(ctx context.Context, transactionID string, resultCode int, resultDesc string) error {
	return s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":      models.StatusFailed,
			"result_code": resultCode,
			"result_desc": resultDesc,
		}).Error
}

func (s *GormStore) SaveCallbackLog(ctx context.Context, entry *models.CallbackLog) error {
	return s.DB.WithContext(ctx).Create(entry).Error
}
