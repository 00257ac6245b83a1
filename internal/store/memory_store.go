package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-service/internal/models"
)

// MemoryStore keeps transactions in a mutex-guarded map. It honors the same
// compare-and-set contract as GormStore and backs tests and local runs.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       uint
	byTrxID      map[string]*models.Transaction
	byCheckoutID map[string]*models.Transaction
	CallbackLogs []models.CallbackLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTrxID:      make(map[string]*models.Transaction),
		byCheckoutID: make(map[string]*models.Transaction),
	}
}

func (s *MemoryStore) Create(ctx context.Context, trx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTrxID[trx.TransactionID]; ok {
		return fmt.Errorf("duplicate transaction_id %s", trx.TransactionID)
	}
	s.nextID++
	trx.ID = s.nextID
	now := time.Now()
	if trx.CreatedAt.IsZero() {
		trx.CreatedAt = now
	}
	trx.UpdatedAt = now

	clone := *trx
	s.byTrxID[trx.TransactionID] = &clone
	return nil
}

func (s *MemoryStore) AttachAcknowledgment(ctx context.Context, transactionID string, ack Acknowledgment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trx, ok := s.byTrxID[transactionID]
	if !ok || trx.CheckoutRequestID != nil {
		return ErrNotFound
	}
	checkoutID := ack.CheckoutRequestID
	trx.MerchantRequestID = ack.MerchantRequestID
	trx.CheckoutRequestID = &checkoutID
	trx.ResponseCode = ack.ResponseCode
	trx.ResponseDescription = ack.ResponseDescription
	trx.CustomerMessage = ack.CustomerMessage
	trx.UpdatedAt = time.Now()
	s.byCheckoutID[checkoutID] = trx
	return nil
}

func (s *MemoryStore) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trx, ok := s.byCheckoutID[checkoutRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *trx
	return &clone, nil
}

func (s *MemoryStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trx, ok := s.byTrxID[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *trx
	return &clone, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID int, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, trx := range s.byTrxID {
		if trx.UserID == userID {
			out = append(out, *trx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, trx := range s.byTrxID {
		if trx.Status == models.StatusPending && trx.CreatedAt.Before(cutoff) {
			out = append(out, *trx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyTerminalResult(ctx context.Context, checkoutRequestID string, result TerminalResult) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trx, ok := s.byCheckoutID[checkoutRequestID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if trx.Status != models.StatusPending {
		clone := *trx
		return &clone, false, nil
	}

	code := result.ResultCode
	trx.Status = result.Status
	trx.ResultCode = &code
	trx.ResultDesc = result.ResultDesc
	if result.Status == models.StatusCompleted {
		trx.ReceiptNumber = result.ReceiptNumber
		trx.SettledAmount = result.SettledAmount
		trx.SettledPhone = result.SettledPhone
		trx.SettledAt = result.SettledAt
	}
	trx.UpdatedAt = time.Now()

	clone := *trx
	return &clone, true, nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, transactionID string, resultCode int, resultDesc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trx, ok := s.byTrxID[transactionID]
	if !ok {
		return ErrNotFound
	}
	if trx.Status != models.StatusPending {
		return nil
	}
	code := resultCode
	trx.Status = models.StatusFailed
	trx.ResultCode = &code
	trx.ResultDesc = resultDesc
	trx.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SaveCallbackLog(ctx context.Context, entry *models.CallbackLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uint(len(s.CallbackLogs) + 1)
	entry.CreatedAt = time.Now()
	s.CallbackLogs = append(s.CallbackLogs, *entry)
	return nil
}
