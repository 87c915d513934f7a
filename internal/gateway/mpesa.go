package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/pkg/apperrors"
	"github.com/umoja-loans/loan-engine/pkg/utils"
)

// PushResult is the synchronous outcome of a push-payment initiation. The
// asynchronous outcome arrives later as a callback correlated by
// CheckoutRequestID.
type PushResult struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
	Message           string `json:"message"`
}

// PushStatus is the result of a status query for an in-flight push payment.
type PushStatus struct {
	ResultCode string `json:"result_code"`
	ResultDesc string `json:"result_desc"`
}

// Gateway is the boundary to the external mobile-money API.
type Gateway interface {
	InitiatePush(ctx context.Context, phone string, amount int64, reference, description string) (*PushResult, error)
	QueryPush(ctx context.Context, checkoutRequestID string) (*PushStatus, error)
}

// MpesaGateway talks to the Safaricom Daraja API.
type MpesaGateway struct {
	cfg    config.MpesaConfig
	client *http.Client
	log    *logrus.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesaGateway(cfg config.MpesaConfig, log *logrus.Logger) *MpesaGateway {
	return &MpesaGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, refreshing it when expired.
func (g *MpesaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	url := g.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperrors.System(err)
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", apperrors.Gateway("Failed to authenticate with M-Pesa", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Gateway("Failed to authenticate with M-Pesa",
			fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", apperrors.Gateway("Failed to authenticate with M-Pesa", err)
	}

	g.token = tr.AccessToken
	// Daraja tokens last an hour; refresh a bit early.
	g.tokenExpiry = time.Now().Add(50 * time.Minute)
	return g.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ErrorMessage        string `json:"errorMessage"`
}

// InitiatePush sends an STK push prompting the user's phone to authorize a
// payment. The phone number is normalized to the country prefix first.
func (g *MpesaGateway) InitiatePush(ctx context.Context, phone string, amount int64, reference, description string) (*PushResult, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	phone = utils.NormalizePhone(phone, g.cfg.CountryPrefix)
	timestamp := time.Now().Format("20060102150405")

	payload := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          g.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	var out stkPushResponse
	if err := g.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return nil, err
	}

	if out.ResponseCode != "0" {
		message := out.ResponseDescription
		if message == "" {
			message = out.ErrorMessage
		}
		if message == "" {
			message = "Unknown error"
		}
		g.log.WithField("phone", phone).Errorf("STK push rejected: %s", message)
		return &PushResult{Success: false, Message: message}, nil
	}

	g.log.WithFields(logrus.Fields{
		"phone":               phone,
		"amount":              amount,
		"checkout_request_id": out.CheckoutRequestID,
	}).Info("STK push initiated")

	return &PushResult{
		Success:           true,
		CheckoutRequestID: out.CheckoutRequestID,
		Message:           "Payment request sent to your phone",
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// QueryPush asks the gateway for the status of an in-flight push payment.
func (g *MpesaGateway) QueryPush(ctx context.Context, checkoutRequestID string) (*PushStatus, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := stkQueryRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          g.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var out stkQueryResponse
	if err := g.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return nil, err
	}

	return &PushStatus{ResultCode: out.ResultCode, ResultDesc: out.ResultDesc}, nil
}

func (g *MpesaGateway) post(ctx context.Context, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.System(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.System(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Gateway("Service temporarily unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return apperrors.Gateway("Service temporarily unavailable",
			fmt.Errorf("gateway returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Gateway("Service temporarily unavailable", err)
	}
	return nil
}

func (g *MpesaGateway) password(timestamp string) string {
	raw := g.cfg.ShortCode + g.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
