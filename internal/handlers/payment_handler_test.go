package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"payment-service/internal/models"
	"payment-service/internal/services"
	"payment-service/internal/store"
)

type stubGateway struct {
	ack     *services.STKPushAck
	pushErr error
}

func (g *stubGateway) InitiateSTKPush(ctx context.Context, phone string, amount float64, reference, description string) (*services.STKPushAck, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return g.ack, nil
}

func (g *stubGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*services.STKQueryResult, error) {
	return &services.STKQueryResult{Processing: true}, nil
}

func testConfig() services.PaymentConfig {
	return services.PaymentConfig{
		PhonePrefix: "254",
		MinAmount:   1,
		MaxAmount:   250000,
	}
}

func newTestRouter(gateway *stubGateway) (*gin.Engine, *store.MemoryStore) {
	gin.SetMode(gin.TestMode)

	memStore := store.NewMemoryStore()
	svc := services.NewPaymentService(memStore, memStore, gateway, nil, testConfig())

	r := gin.New()
	NewPaymentHandler(svc).RegisterRoutes(r)
	return r, memStore
}

func defaultAck() *services.STKPushAck {
	return &services.STKPushAck{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_191220191020363925",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
}

func postJSON(r *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateEndpoint_Success(t *testing.T) {
	r, memStore := newTestRouter(&stubGateway{ack: defaultAck()})

	w := postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			CheckoutRequestID string `json:"checkout_request_id"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ws_CO_191220191020363925", resp.Data.CheckoutRequestID)

	trx, err := memStore.FindByCheckoutID(context.Background(), "ws_CO_191220191020363925")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, trx.Status)
}

func TestInitiateEndpoint_InvalidPhone(t *testing.T) {
	r, memStore := newTestRouter(&stubGateway{ack: defaultAck()})

	w := postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"0712345678","amount":100.00}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	list, _ := memStore.ListByUser(context.Background(), 7, 10)
	assert.Empty(t, list)
}

func TestInitiateEndpoint_GatewayUnavailable(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{pushErr: services.ErrGatewayUnavailable})

	w := postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestInitiateEndpoint_GatewayRejected(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{pushErr: &services.GatewayRejectedError{
		Code:        "400.002.02",
		Description: "Bad Request - Invalid Amount",
	}})

	w := postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Bad Request - Invalid Amount")
}

func callbackBody(checkoutID string, resultCode int) string {
	return fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": %q,
				"ResultCode": %d,
				"ResultDesc": "desc",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 100.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20240115103000},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`, checkoutID, resultCode)
}

func TestCallbackEndpoint_FullFlow(t *testing.T) {
	r, memStore := newTestRouter(&stubGateway{ack: defaultAck()})

	w := postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(r, "/payments/callback", callbackBody("ws_CO_191220191020363925", 0))
	assert.Equal(t, http.StatusOK, w.Code)

	var ack services.CallbackAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)

	trx, _ := memStore.FindByCheckoutID(context.Background(), "ws_CO_191220191020363925")
	assert.Equal(t, models.StatusCompleted, trx.Status)
	assert.Equal(t, "NLJ7RT61SV", trx.ReceiptNumber)
}

func TestCallbackEndpoint_UnknownCheckoutIsStill200(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{ack: defaultAck()})

	w := postJSON(r, "/payments/callback", callbackBody("ws_CO_unknown", 0))

	assert.Equal(t, http.StatusOK, w.Code)

	var ack services.CallbackAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, 1, ack.ResultCode)
	assert.Equal(t, "Transaction not found", ack.ResultDesc)
}

func TestCallbackEndpoint_DuplicateDeliveryIs200(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{ack: defaultAck()})
	postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	first := postJSON(r, "/payments/callback", callbackBody("ws_CO_191220191020363925", 0))
	second := postJSON(r, "/payments/callback", callbackBody("ws_CO_191220191020363925", 0))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	var ack services.CallbackAck
	assert.NoError(t, json.Unmarshal(second.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)
}

func TestCallbackEndpoint_UnparsableBodyIs400(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{ack: defaultAck()})

	w := postJSON(r, "/payments/callback", `this is not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransactionEndpoint(t *testing.T) {
	r, memStore := newTestRouter(&stubGateway{ack: defaultAck()})
	postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	list, _ := memStore.ListByUser(context.Background(), 7, 1)
	assert.Len(t, list, 1)

	req := httptest.NewRequest(http.MethodGet, "/payments/"+list[0].TransactionID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), list[0].TransactionID)

	req = httptest.NewRequest(http.MethodGet, "/payments/does-not-exist", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTransactionsEndpoint(t *testing.T) {
	r, _ := newTestRouter(&stubGateway{ack: defaultAck()})
	postJSON(r, "/payments/stk-push", `{"user_id":7,"phone_number":"254712345678","amount":100.00}`)

	req := httptest.NewRequest(http.MethodGet, "/payments?user_id=7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var transactions []models.Transaction
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &transactions))
	assert.Len(t, transactions, 1)

	req = httptest.NewRequest(http.MethodGet, "/payments?user_id=abc", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
