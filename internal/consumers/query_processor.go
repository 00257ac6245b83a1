package consumers

import (
	"context"
	"errors"
	"log"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/services"
	"payment-service/internal/store"
)

// StkQueryDTO is the payload of a status-query task. Field names match the
// payload the payment service enqueues.
type StkQueryDTO struct {
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

// QueryProcessor resolves Pending transactions whose callback never arrived
// by asking the gateway for the verdict. Results flow through the same
// atomic transition as callbacks, so a late callback racing a query can
// never double-apply.
type QueryProcessor struct {
	Store       store.TransactionStore
	Gateway     services.GatewayClient
	ExpireAfter time.Duration
}

func NewQueryProcessor(trxStore store.TransactionStore, gateway services.GatewayClient, expireAfter time.Duration) *QueryProcessor {
	return &QueryProcessor{
		Store:       trxStore,
		Gateway:     gateway,
		ExpireAfter: expireAfter,
	}
}

// timeoutResultCode mirrors Daraja's "DS timeout" code for locally expired rows.
const timeoutResultCode = 1037

// ProcessStatusQuery handles one queued status query. A nil return means the
// task is done; an error asks the queue to retry later.
func (p *QueryProcessor) ProcessStatusQuery(ctx context.Context, dto StkQueryDTO) error {
	trx, err := p.Store.FindByCheckoutID(ctx, dto.CheckoutRequestID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("Status query for unknown CheckoutRequestID %s, dropping", dto.CheckoutRequestID)
		return nil
	}
	if err != nil {
		return err
	}
	if trx.IsTerminal() {
		// The callback won the race while this task sat in the queue.
		return nil
	}

	result, err := p.Gateway.QueryStatus(ctx, dto.CheckoutRequestID)
	if err != nil || result.Processing {
		if time.Since(trx.CreatedAt) >= p.ExpireAfter {
			return p.expire(ctx, dto.CheckoutRequestID)
		}
		if err != nil {
			return err
		}
		// Still processing and not yet expired; the next sweep re-enqueues.
		return nil
	}

	terminal := store.TerminalResult{
		ResultCode: result.ResultCode,
		ResultDesc: result.ResultDesc,
		Status:     models.StatusFailed,
	}
	if result.ResultCode == 0 {
		// The query verdict carries no settlement metadata; the receipt
		// stays empty unless a callback already delivered it.
		terminal.Status = models.StatusCompleted
	}

	_, applied, err := p.Store.ApplyTerminalResult(ctx, dto.CheckoutRequestID, terminal)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("Transaction %s resolved to %s by status query", dto.CheckoutRequestID, terminal.Status)
	}
	return nil
}

func (p *QueryProcessor) expire(ctx context.Context, checkoutRequestID string) error {
	_, applied, err := p.Store.ApplyTerminalResult(ctx, checkoutRequestID, store.TerminalResult{
		Status:     models.StatusFailed,
		ResultCode: timeoutResultCode,
		ResultDesc: "Timeout waiting for settlement callback",
	})
	if err != nil {
		return err
	}
	if applied {
		log.Printf("Transaction %s expired after %s without a callback", checkoutRequestID, p.ExpireAfter)
	}
	return nil
}
