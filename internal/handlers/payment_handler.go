package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"payment-service/internal/services"
	"payment-service/internal/store"
	"payment-service/pkg/common"
)

type PaymentHandler struct {
	Service *services.PaymentService
}

func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{Service: service}
}

func (h *PaymentHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/payments/stk-push", h.InitiateSTKPush)
	r.POST("/payments/callback", h.HandleCallback)
	r.GET("/payments/:transactionId", h.GetTransaction)
	r.GET("/payments", h.ListTransactions)
}

func (h *PaymentHandler) InitiateSTKPush(c *gin.Context) {
	var req services.InitiateSTKPushDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		return
	}

	result, err := h.Service.InitiateSTKPush(c.Request.Context(), req)
	if err != nil {
		var rejected *services.GatewayRejectedError
		switch {
		case errors.Is(err, services.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		case errors.As(err, &rejected):
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("Failed to initiate STK Push", gin.H{
				"details": rejected.Description,
				"code":    rejected.Code,
			}, http.StatusBadRequest))
		case errors.Is(err, services.ErrGatewayUnavailable):
			c.JSON(http.StatusBadGateway, common.NewErrorResponse("Payment gateway unavailable, please retry", nil, http.StatusBadGateway))
		default:
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error(), nil, http.StatusInternalServerError))
		}
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(result, "STK Push initiated successfully. Please check your phone."))
}

// HandleCallback receives Daraja settlement notifications. The gateway only
// understands the {ResultCode, ResultDesc} acknowledgment, so every
// parseable delivery is answered with HTTP 200 and one of those bodies;
// 400 is reserved for bodies that are not JSON at all.
func (h *PaymentHandler) HandleCallback(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, services.CallbackAck{ResultCode: 1, ResultDesc: "Unable to read request body"})
		return
	}

	var payload services.STKCallbackBody
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		c.JSON(http.StatusBadRequest, services.CallbackAck{ResultCode: 1, ResultDesc: "Invalid callback payload"})
		return
	}

	ack := h.Service.HandleCallback(c.Request.Context(), rawBody, payload.Body.StkCallback)
	c.JSON(http.StatusOK, ack)
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	transactionID := c.Param("transactionId")

	trx, err := h.Service.GetTransaction(c.Request.Context(), transactionID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.NewErrorResponse("Transaction not found", nil, http.StatusNotFound))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("Failed to fetch transaction", nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, trx)
}

func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	userID, err := strconv.Atoi(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	transactions, err := h.Service.ListUserTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, transactions)
}
