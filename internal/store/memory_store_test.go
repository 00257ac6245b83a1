package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"payment-service/internal/models"
)

func newPendingTransaction(t *testing.T, s *MemoryStore, trxID, checkoutID string) {
	t.Helper()
	ctx := context.Background()

	err := s.Create(ctx, &models.Transaction{
		TransactionID: trxID,
		UserID:        1,
		PhoneNumber:   "254712345678",
		Amount:        100,
		Reference:     "Order-1-TEST",
		Status:        models.StatusPending,
	})
	assert.NoError(t, err)

	err = s.AttachAcknowledgment(ctx, trxID, Acknowledgment{
		MerchantRequestID: "merchant-" + trxID,
		CheckoutRequestID: checkoutID,
		ResponseCode:      "0",
	})
	assert.NoError(t, err)
}

func TestApplyTerminalResult_Completes(t *testing.T) {
	s := NewMemoryStore()
	newPendingTransaction(t, s, "trx-1", "ws_CO_1")

	amount := 100.0
	settledAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	trx, applied, err := s.ApplyTerminalResult(context.Background(), "ws_CO_1", TerminalResult{
		Status:        models.StatusCompleted,
		ResultCode:    0,
		ResultDesc:    "The service request is processed successfully.",
		ReceiptNumber: "QAR7X9",
		SettledAmount: &amount,
		SettledPhone:  "254712345678",
		SettledAt:     &settledAt,
	})

	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusCompleted, trx.Status)
	assert.Equal(t, "QAR7X9", trx.ReceiptNumber)
	assert.Equal(t, 100.0, *trx.SettledAmount)
	assert.Equal(t, settledAt, *trx.SettledAt)
}

func TestApplyTerminalResult_FailureLeavesSettlementEmpty(t *testing.T) {
	s := NewMemoryStore()
	newPendingTransaction(t, s, "trx-1", "ws_CO_1")

	trx, applied, err := s.ApplyTerminalResult(context.Background(), "ws_CO_1", TerminalResult{
		Status:     models.StatusFailed,
		ResultCode: 1032,
		ResultDesc: "Request cancelled by user",
	})

	assert.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StatusFailed, trx.Status)
	assert.Equal(t, 1032, *trx.ResultCode)
	assert.Empty(t, trx.ReceiptNumber)
	assert.Nil(t, trx.SettledAmount)
	assert.Nil(t, trx.SettledAt)
}

func TestApplyTerminalResult_SecondDeliveryIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	newPendingTransaction(t, s, "trx-1", "ws_CO_1")
	ctx := context.Background()

	amount := 100.0
	_, applied, err := s.ApplyTerminalResult(ctx, "ws_CO_1", TerminalResult{
		Status:        models.StatusCompleted,
		ReceiptNumber: "QAR7X9",
		SettledAmount: &amount,
	})
	assert.NoError(t, err)
	assert.True(t, applied)

	// A redelivered failure callback must not overwrite the terminal state.
	trx, applied, err := s.ApplyTerminalResult(ctx, "ws_CO_1", TerminalResult{
		Status:     models.StatusFailed,
		ResultCode: 1,
		ResultDesc: "late duplicate",
	})
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.StatusCompleted, trx.Status)
	assert.Equal(t, "QAR7X9", trx.ReceiptNumber)
}

func TestApplyTerminalResult_UnknownCheckoutID(t *testing.T) {
	s := NewMemoryStore()

	_, _, err := s.ApplyTerminalResult(context.Background(), "ws_CO_missing", TerminalResult{
		Status: models.StatusCompleted,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyTerminalResult_ConcurrentCallbacks(t *testing.T) {
	s := NewMemoryStore()
	newPendingTransaction(t, s, "trx-1", "ws_CO_1")

	const deliveries = 10
	var wg sync.WaitGroup
	appliedCount := make(chan bool, deliveries)

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amount := 100.0
			_, applied, err := s.ApplyTerminalResult(context.Background(), "ws_CO_1", TerminalResult{
				Status:        models.StatusCompleted,
				ReceiptNumber: "QAR7X9",
				SettledAmount: &amount,
			})
			assert.NoError(t, err)
			appliedCount <- applied
		}()
	}
	wg.Wait()
	close(appliedCount)

	wins := 0
	for applied := range appliedCount {
		if applied {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one delivery must perform the transition")
}

func TestAttachAcknowledgment_SetOnce(t *testing.T) {
	s := NewMemoryStore()
	newPendingTransaction(t, s, "trx-1", "ws_CO_1")

	err := s.AttachAcknowledgment(context.Background(), "trx-1", Acknowledgment{
		CheckoutRequestID: "ws_CO_other",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	trx, err := s.FindByTransactionID(context.Background(), "trx-1")
	assert.NoError(t, err)
	assert.Equal(t, "ws_CO_1", *trx.CheckoutRequestID)
}

func TestListStalePending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := &models.Transaction{
		TransactionID: "trx-old",
		Status:        models.StatusPending,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	assert.NoError(t, s.Create(ctx, old))

	fresh := &models.Transaction{
		TransactionID: "trx-fresh",
		Status:        models.StatusPending,
	}
	assert.NoError(t, s.Create(ctx, fresh))

	stale, err := s.ListStalePending(ctx, time.Now().Add(-time.Minute), 10)
	assert.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.Equal(t, "trx-old", stale[0].TransactionID)
}

func TestMarkFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, s.Create(ctx, &models.Transaction{
		TransactionID: "trx-1",
		Status:        models.StatusPending,
	}))

	assert.NoError(t, s.MarkFailed(ctx, "trx-1", 1, "gateway unreachable"))

	trx, err := s.FindByTransactionID(ctx, "trx-1")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusFailed, trx.Status)
	assert.Equal(t, 1, *trx.ResultCode)

	// Failing again is a no-op on the terminal row.
	assert.NoError(t, s.MarkFailed(ctx, "trx-1", 2, "second attempt"))
	trx, _ = s.FindByTransactionID(ctx, "trx-1")
	assert.Equal(t, 1, *trx.ResultCode)
}
