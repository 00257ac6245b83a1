package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/pkg/common"
)

// GatewayClient is the outbound gateway surface the payment service depends
// on. DarajaService is the production implementation; tests substitute fakes.
type GatewayClient interface {
	InitiateSTKPush(ctx context.Context, phoneNumber string, amount float64, reference, description string) (*STKPushAck, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error)
}

// Task type and payload for the status-query job. Mirrored in the consumers
// package to avoid an import cycle with the worker.
const TypeStkQuery = "stk:query"

type StkQueryPayload struct {
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

// Local result codes for failures the gateway never reported.
const (
	resultCodeGatewayError = 1
	// resultCodeTimeout matches Daraja's "DS timeout" code so swept rows read
	// the same as gateway-reported timeouts.
	resultCodeTimeout = 1037
)

type PaymentConfig struct {
	PhonePrefix string
	MinAmount   float64
	MaxAmount   float64
	// QueryAfter is how long a transaction may stay Pending before the sweep
	// asks the gateway for its status.
	QueryAfter time.Duration
	// ExpireAfter is how long a transaction may stay Pending before it is
	// failed locally.
	ExpireAfter time.Duration
}

func PaymentConfigFromEnv() PaymentConfig {
	cfg := PaymentConfig{
		PhonePrefix: "254",
		MinAmount:   1,
		MaxAmount:   250000,
		QueryAfter:  5 * time.Minute,
		ExpireAfter: 120 * time.Minute,
	}
	if prefix := os.Getenv("PHONE_PREFIX"); prefix != "" {
		cfg.PhonePrefix = prefix
	}
	if raw := os.Getenv("PAYMENT_MIN_AMOUNT"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.MinAmount = v
		}
	}
	if raw := os.Getenv("PAYMENT_MAX_AMOUNT"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.MaxAmount = v
		}
	}
	if raw := os.Getenv("STK_QUERY_AFTER_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.QueryAfter = time.Duration(v) * time.Minute
		}
	}
	if raw := os.Getenv("STK_EXPIRE_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.ExpireAfter = time.Duration(v) * time.Minute
		}
	}
	return cfg
}

// PaymentService owns the lifecycle of STK push transactions: it is the only
// component that creates them, and together with the store's compare-and-set
// the only path that settles them.
type PaymentService struct {
	Store   store.TransactionStore
	Logs    store.CallbackLogStore
	Gateway GatewayClient
	Asynq   *asynq.Client
	Config  PaymentConfig
}

func NewPaymentService(trxStore store.TransactionStore, logs store.CallbackLogStore, gateway GatewayClient, asynqClient *asynq.Client, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		Store:   trxStore,
		Logs:    logs,
		Gateway: gateway,
		Asynq:   asynqClient,
		Config:  cfg,
	}
}

type InitiateSTKPushDTO struct {
	UserID      int     `json:"user_id" binding:"required"`
	PhoneNumber string  `json:"phone_number" binding:"required"`
	Amount      float64 `json:"amount" binding:"required"`
	Reference   string  `json:"reference"`
	Description string  `json:"description"`
}

type InitiateSTKPushResult struct {
	TransactionID     string `json:"transaction_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
}

// InitiateSTKPush validates the request, records a Pending transaction and
// dispatches the push. The row is created before the gateway call so a
// fast callback always finds it.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, dto InitiateSTKPushDTO) (*InitiateSTKPushResult, error) {
	if err := s.validatePhone(dto.PhoneNumber); err != nil {
		return nil, err
	}
	if dto.Amount < s.Config.MinAmount {
		return nil, invalidRequestf("amount must be at least %.2f", s.Config.MinAmount)
	}
	if dto.Amount > s.Config.MaxAmount {
		return nil, invalidRequestf("amount exceeds the maximum of %.2f", s.Config.MaxAmount)
	}

	reference := dto.Reference
	if reference == "" {
		reference = fmt.Sprintf("Order-%d-%s", dto.UserID, common.GenerateTrxNo())
	}
	description := dto.Description
	if description == "" {
		description = "Payment for Goods/Services"
	}

	trx := &models.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        dto.UserID,
		PhoneNumber:   dto.PhoneNumber,
		Amount:        dto.Amount,
		Reference:     reference,
		Description:   description,
		Status:        models.StatusPending,
	}
	if err := s.Store.Create(ctx, trx); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	ack, err := s.Gateway.InitiateSTKPush(ctx, dto.PhoneNumber, dto.Amount, reference, description)
	if err != nil {
		// No callback will ever arrive for this attempt; fail it now.
		if markErr := s.Store.MarkFailed(ctx, trx.TransactionID, resultCodeGatewayError, err.Error()); markErr != nil {
			log.Printf("Failed to mark transaction %s failed: %v", trx.TransactionID, markErr)
		}
		return nil, err
	}

	if err := s.Store.AttachAcknowledgment(ctx, trx.TransactionID, store.Acknowledgment{
		MerchantRequestID:   ack.MerchantRequestID,
		CheckoutRequestID:   ack.CheckoutRequestID,
		ResponseCode:        ack.ResponseCode,
		ResponseDescription: ack.ResponseDescription,
		CustomerMessage:     ack.CustomerMessage,
	}); err != nil {
		// The push is already on its way; surface the record, not an error.
		log.Printf("Failed to attach acknowledgment to transaction %s: %v", trx.TransactionID, err)
	}

	return &InitiateSTKPushResult{
		TransactionID:     trx.TransactionID,
		MerchantRequestID: ack.MerchantRequestID,
		CheckoutRequestID: ack.CheckoutRequestID,
		CustomerMessage:   ack.CustomerMessage,
	}, nil
}

func (s *PaymentService) validatePhone(phone string) error {
	if len(phone) != 12 {
		return invalidRequestf("phone number must be 12 digits in international format")
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return invalidRequestf("phone number must contain digits only")
		}
	}
	if phone[:len(s.Config.PhonePrefix)] != s.Config.PhonePrefix {
		return invalidRequestf("phone number must start with %s", s.Config.PhonePrefix)
	}
	return nil
}

// HandleCallback reconciles one inbound settlement notification. It never
// returns an error: every delivery, including malformed and unmatched ones,
// is answered with the acknowledgment contract the gateway understands.
func (s *PaymentService) HandleCallback(ctx context.Context, rawBody []byte, callback STKCallback) CallbackAck {
	if callback.CheckoutRequestID == "" {
		ack := CallbackAck{ResultCode: 1, ResultDesc: "Malformed callback payload"}
		s.logCallback(ctx, "", rawBody, ack, models.CallbackOutcomeMalformed)
		return ack
	}

	result := store.TerminalResult{
		ResultCode: callback.ResultCode,
		ResultDesc: callback.ResultDesc,
	}
	if callback.ResultCode == 0 {
		var items []CallbackItem
		if callback.CallbackMetadata != nil {
			items = callback.CallbackMetadata.Item
		}
		details := NormalizeCallbackMetadata(items)
		result.Status = models.StatusCompleted
		result.ReceiptNumber = details.ReceiptNumber
		result.SettledAmount = details.Amount
		result.SettledPhone = details.PhoneNumber
		result.SettledAt = details.TransactionAt
	} else {
		result.Status = models.StatusFailed
	}

	trx, applied, err := s.Store.ApplyTerminalResult(ctx, callback.CheckoutRequestID, result)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Printf("Callback for unknown CheckoutRequestID %s", callback.CheckoutRequestID)
		ack := CallbackAck{ResultCode: 1, ResultDesc: "Transaction not found"}
		s.logCallback(ctx, callback.CheckoutRequestID, rawBody, ack, models.CallbackOutcomeNotFound)
		return ack
	case err != nil:
		log.Printf("Error applying callback for %s: %v", callback.CheckoutRequestID, err)
		ack := CallbackAck{ResultCode: 1, ResultDesc: "Error processing callback"}
		s.logCallback(ctx, callback.CheckoutRequestID, rawBody, ack, models.CallbackOutcomeError)
		return ack
	case !applied:
		// Duplicate delivery. Acknowledge success so the gateway stops
		// retrying; the earlier result stands untouched.
		log.Printf("Duplicate callback for %s ignored (status %s)", callback.CheckoutRequestID, trx.Status)
		ack := CallbackAck{ResultCode: 0, ResultDesc: "Callback accepted successfully"}
		s.logCallback(ctx, callback.CheckoutRequestID, rawBody, ack, models.CallbackOutcomeAlreadySettled)
		return ack
	}

	if result.Status == models.StatusCompleted {
		log.Printf("Transaction %s COMPLETED. Receipt: %s", callback.CheckoutRequestID, result.ReceiptNumber)
	} else {
		log.Printf("Transaction %s FAILED. ResultCode: %d, Desc: %s", callback.CheckoutRequestID, callback.ResultCode, callback.ResultDesc)
	}

	ack := CallbackAck{ResultCode: 0, ResultDesc: "Callback accepted successfully"}
	s.logCallback(ctx, callback.CheckoutRequestID, rawBody, ack, models.CallbackOutcomeApplied)
	return ack
}

func (s *PaymentService) logCallback(ctx context.Context, checkoutRequestID string, rawBody []byte, ack CallbackAck, outcome string) {
	if s.Logs == nil {
		return
	}
	response, _ := json.Marshal(ack)
	entry := &models.CallbackLog{
		CheckoutRequestID: checkoutRequestID,
		Request:           string(rawBody),
		Response:          string(response),
		Outcome:           outcome,
		PaymentMethod:     "Mpesa",
	}
	if err := s.Logs.SaveCallbackLog(ctx, entry); err != nil {
		log.Printf("Failed to save callback log for %s: %v", checkoutRequestID, err)
	}
}

// GetTransaction returns a single attempt by its system identifier, for
// client-side polling.
func (s *PaymentService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.Store.FindByTransactionID(ctx, transactionID)
}

// ListUserTransactions returns a user's most recent attempts.
func (s *PaymentService) ListUserTransactions(ctx context.Context, userID int, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.ListByUser(ctx, userID, limit)
}

// SweepPendingTransactions finds rows that have sat in Pending past the query
// threshold and hands each one to the worker for a gateway status query.
// Rows that never received an acknowledgment cannot be queried; those are
// failed once they pass the expiry threshold.
func (s *PaymentService) SweepPendingTransactions(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Config.QueryAfter)
	stale, err := s.Store.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(-s.Config.ExpireAfter)
	for _, trx := range stale {
		if trx.CheckoutRequestID == nil {
			if trx.CreatedAt.Before(expiry) {
				if err := s.Store.MarkFailed(ctx, trx.TransactionID, resultCodeTimeout, "Expired before gateway acknowledgment"); err != nil {
					log.Printf("Failed to expire transaction %s: %v", trx.TransactionID, err)
				}
			}
			continue
		}
		if s.Asynq == nil {
			continue
		}
		payload, err := json.Marshal(StkQueryPayload{
			TransactionID:     trx.TransactionID,
			CheckoutRequestID: *trx.CheckoutRequestID,
		})
		if err != nil {
			continue
		}
		if _, err := s.Asynq.Enqueue(asynq.NewTask(TypeStkQuery, payload)); err != nil {
			log.Printf("Failed to enqueue status query for %s: %v", trx.TransactionID, err)
		}
	}
	return nil
}

// StartScheduler runs the pending-transaction sweep every 10 minutes.
func (s *PaymentService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("*/10 * * * *", func() {
		log.Println("Running scheduled pending-transaction sweep...")
		if err := s.SweepPendingTransactions(context.Background()); err != nil {
			log.Printf("Error in pending-transaction sweep: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling pending-transaction sweep: %v", err)
		return
	}
	c.Start()
	log.Println("PaymentService scheduler started (every 10 minutes)")
}
