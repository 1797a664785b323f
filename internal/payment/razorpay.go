// Package payment talks to the Razorpay Orders API and verifies the
// payment signatures it hands back to the checkout page.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

const defaultBaseURL = "https://api.razorpay.com/v1"

// Razorpay is a minimal client for the parts of the Razorpay API the
// booking workflow needs.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// Option customises a Razorpay client.
type Option func(*Razorpay)

// WithBaseURL points the client at another API root (sandbox, test server).
func WithBaseURL(u string) Option {
	return func(r *Razorpay) {
		if u != "" {
			r.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Razorpay) {
		if c != nil {
			r.client = c
		}
	}
}

// NewRazorpay builds a client authenticated with the given key pair.
func NewRazorpay(keyID, keySecret string, opts ...Option) *Razorpay {
	r := &Razorpay{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   defaultBaseURL,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KeyID is the public key the checkout page needs to open the payment form.
func (r *Razorpay) KeyID() string { return r.keyID }

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a payable order for amountMinor units of currency.
// Network failures, 429 and 5xx responses are reported as
// model.ErrGatewayUnavailable so callers can retry.
func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (model.PaymentOrder, error) {
	if len(receipt) > MaxReceiptLen {
		return model.PaymentOrder{}, fmt.Errorf("receipt %q longer than %d characters", receipt, MaxReceiptLen)
	}
	body, err := json.Marshal(createOrderRequest{
		Amount:         amountMinor,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	})
	if err != nil {
		return model.PaymentOrder{}, fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return model.PaymentOrder{}, fmt.Errorf("build order request: %w", err)
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return model.PaymentOrder{}, fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.PaymentOrder{}, fmt.Errorf("%w: read response: %v", model.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return model.PaymentOrder{}, fmt.Errorf("%w: status %d", model.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		return model.PaymentOrder{}, fmt.Errorf("razorpay rejected order: status %d: %s %s",
			resp.StatusCode, e.Error.Code, e.Error.Description)
	}

	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.PaymentOrder{}, fmt.Errorf("decode order: %w", err)
	}
	if out.ID == "" {
		return model.PaymentOrder{}, fmt.Errorf("decode order: missing id")
	}
	return model.PaymentOrder{
		ID:          out.ID,
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		Receipt:     out.Receipt,
		Status:      out.Status,
	}, nil
}

// Verify checks the checkout signature for orderID and paymentID.  The
// comparison runs in constant time.
func (r *Razorpay) Verify(_ context.Context, orderID, paymentID, signature string) (bool, error) {
	return VerifySignature(r.keySecret, orderID, paymentID, signature), nil
}

// Sign computes the hex HMAC-SHA256 of "orderID|paymentID" with secret.
func Sign(secret, orderID, paymentID string) string {
	return hex.EncodeToString(mac(secret, orderID, paymentID))
}

// VerifySignature reports whether signature is the hex HMAC of
// "orderID|paymentID" under secret.
func VerifySignature(secret, orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, orderID, paymentID), got)
}

func mac(secret, orderID, paymentID string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(orderID + "|" + paymentID))
	return h.Sum(nil)
}
