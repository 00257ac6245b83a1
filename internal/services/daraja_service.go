package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"payment-service/pkg/common"
)

// STKPushAck is the gateway's synchronous acknowledgment. ResponseCode "0"
// means the push was dispatched to the subscriber's device; it is not proof
// of payment.
type STKPushAck struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKQueryResult is the outcome of an STK push status query. Processing is
// true while the gateway has no verdict yet.
type STKQueryResult struct {
	Processing bool
	ResultCode int
	ResultDesc string
}

type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

// DarajaConfigFromEnv reads the gateway settings from the environment,
// matching the deployment convention of the rest of the service.
func DarajaConfigFromEnv() DarajaConfig {
	timeout := 30 * time.Second
	if raw := os.Getenv("MPESA_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	baseUrl := os.Getenv("MPESA_BASE_URL")
	if baseUrl == "" {
		baseUrl = "https://sandbox.safaricom.co.ke"
	}
	return DarajaConfig{
		BaseURL:        baseUrl,
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("MPESA_SHORTCODE"),
		PassKey:        os.Getenv("MPESA_PASSKEY"),
		CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		Timeout:        timeout,
	}
}

// DarajaService talks to the Safaricom Daraja API. All calls are bounded by
// the configured timeout so a hung gateway cannot pin a request goroutine.
type DarajaService struct {
	Config DarajaConfig
	Client *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewDarajaService(cfg DarajaConfig) *DarajaService {
	return &DarajaService{
		Config: cfg,
		Client: &http.Client{Timeout: cfg.Timeout},
	}
}

type darajaErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// getAccessToken returns a cached OAuth token, fetching a fresh one when the
// cache is empty or about to expire.
func (s *DarajaService) getAccessToken(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", s.Config.BaseURL)
	body, status, err := common.GetBasicAuth(ctx, s.Client, url, s.Config.ConsumerKey, s.Config.ConsumerSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if status >= 500 {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrGatewayUnavailable, status)
	}
	if status != http.StatusOK {
		return "", &GatewayRejectedError{Code: strconv.Itoa(status), Description: "authentication with gateway failed"}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", ErrGatewayUnavailable)
	}

	expiresIn := 3600
	if secs, err := strconv.Atoi(tokenResp.ExpiresIn); err == nil && secs > 0 {
		expiresIn = secs
	}

	s.accessToken = tokenResp.AccessToken
	// Refresh a minute early so in-flight requests never carry a dead token.
	s.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
	return s.accessToken, nil
}

// password builds the base64(shortcode+passkey+timestamp) credential Daraja
// requires on push and query calls.
func (s *DarajaService) password(timestamp string) string {
	raw := s.Config.ShortCode + s.Config.PassKey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// InitiateSTKPush submits a payment push to the subscriber's device and
// returns the gateway acknowledgment.
func (s *DarajaService) InitiateSTKPush(ctx context.Context, phoneNumber string, amount float64, reference, description string) (*STKPushAck, error) {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(mpesaTimestampLayout)
	payload := map[string]interface{}{
		"BusinessShortCode": s.Config.ShortCode,
		"Password":          s.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(math.Round(amount)),
		"PartyA":            phoneNumber,
		"PartyB":            s.Config.ShortCode,
		"PhoneNumber":       phoneNumber,
		"CallBackURL":       s.Config.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	body, status, err := s.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload)
	if err != nil {
		return nil, err
	}

	if status >= 500 {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, status)
	}
	if status >= 400 {
		var gwErr darajaErrorBody
		_ = json.Unmarshal(body, &gwErr)
		if gwErr.ErrorCode == "" {
			gwErr.ErrorCode = strconv.Itoa(status)
		}
		return nil, &GatewayRejectedError{Code: gwErr.ErrorCode, Description: gwErr.ErrorMessage}
	}

	var ack STKPushAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("%w: malformed acknowledgment", ErrGatewayUnavailable)
	}
	if ack.ResponseCode != "0" {
		return nil, &GatewayRejectedError{Code: ack.ResponseCode, Description: ack.ResponseDescription}
	}
	return &ack, nil
}

// stillProcessingErrorCode is what the query endpoint answers while the
// subscriber has not yet acted on the push.
const stillProcessingErrorCode = "500.001.1001"

// QueryStatus asks the gateway for the verdict on a previously initiated
// push. Used by the reconciliation sweep when a callback never arrived.
func (s *DarajaService) QueryStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error) {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(mpesaTimestampLayout)
	payload := map[string]interface{}{
		"BusinessShortCode": s.Config.ShortCode,
		"Password":          s.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	body, status, err := s.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload)
	if err != nil {
		return nil, err
	}

	if status >= 400 {
		var gwErr darajaErrorBody
		_ = json.Unmarshal(body, &gwErr)
		if gwErr.ErrorCode == stillProcessingErrorCode {
			return &STKQueryResult{Processing: true}, nil
		}
		if status >= 500 {
			return nil, fmt.Errorf("%w: query returned %d", ErrGatewayUnavailable, status)
		}
		return nil, &GatewayRejectedError{Code: gwErr.ErrorCode, Description: gwErr.ErrorMessage}
	}

	var queryResp struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(body, &queryResp); err != nil {
		return nil, fmt.Errorf("%w: malformed query response", ErrGatewayUnavailable)
	}

	resultCode, err := strconv.Atoi(queryResp.ResultCode)
	if err != nil {
		return &STKQueryResult{Processing: true}, nil
	}
	return &STKQueryResult{ResultCode: resultCode, ResultDesc: queryResp.ResultDesc}, nil
}

func (s *DarajaService) postJSON(ctx context.Context, path, token string, payload interface{}) ([]byte, int, error) {
	body, status, err := common.PostJSON(ctx, s.Client, s.Config.BaseURL+path, token, payload)
	if err != nil {
		log.Printf("Daraja request to %s failed: %v", path, err)
		return nil, 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return body, status, nil
}
