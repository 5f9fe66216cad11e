package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NamePaystack identifies the Paystack client.
	NamePaystack = "paystack"

	paystackSignatureHeader = "X-Paystack-Signature"
	paystackChargeSuccess   = "charge.success"
)

// Paystack charges in the currency's minor unit (kobo for NGN).
type Paystack struct {
	HMACVerifier

	baseURL   string
	secretKey string
	client    *http.Client
}

// NewPaystack builds a client for the Paystack transaction API.
func NewPaystack(baseURL, secretKey string, client *http.Client) *Paystack {
	if client == nil {
		client = NewHTTPClient(0, 0)
	}
	return &Paystack{
		HMACVerifier: NewSHA512Verifier(paystackSignatureHeader, secretKey),
		baseURL:      strings.TrimRight(baseURL, "/"),
		secretKey:    secretKey,
		client:       client,
	}
}

func (p *Paystack) Name() string { return NamePaystack }

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

func (p *Paystack) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.secretKey)
	return h
}

// Initialize calls POST /transaction/initialize.
func (p *Paystack) Initialize(ctx context.Context, req InitRequest) (*Session, error) {
	body := map[string]any{
		"email":        req.CustomerEmail,
		"amount":       toMinor(req.Amount),
		"reference":    req.Reference,
		"currency":     req.Currency,
		"callback_url": req.CallbackURL,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var env paystackEnvelope[paystackInitData]
	_, err := do(ctx, p.client, call{
		gateway: NamePaystack,
		method:  http.MethodPost,
		url:     p.baseURL + "/transaction/initialize",
		header:  p.header(),
		body:    body,
	}, &env)
	if err != nil {
		return nil, err
	}
	if !env.Status || env.Data.AuthorizationURL == "" {
		return nil, &Error{Gateway: NamePaystack, Kind: ErrRejected, Reason: reason(env.Message, "initialization declined")}
	}
	if env.Data.Reference != req.Reference {
		return nil, &Error{
			Gateway: NamePaystack,
			Kind:    ErrRejected,
			Reason:  fmt.Sprintf("reference mismatch: sent %q, got %q", req.Reference, env.Data.Reference),
		}
	}

	return &Session{
		Reference:         env.Data.Reference,
		ProviderReference: env.Data.AccessCode,
		RedirectURL:       env.Data.AuthorizationURL,
	}, nil
}

// Verify calls GET /transaction/verify/:reference.
func (p *Paystack) Verify(ctx context.Context, reference string) (*Verification, error) {
	var env paystackEnvelope[paystackTransaction]
	raw, err := do(ctx, p.client, call{
		gateway: NamePaystack,
		method:  http.MethodGet,
		url:     p.baseURL + "/transaction/verify/" + url.PathEscape(reference),
		header:  p.header(),
	}, &env)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &Error{Gateway: NamePaystack, Kind: ErrRejected, Reason: reason(env.Message, "verification declined")}
	}

	v := &Verification{
		Reference: env.Data.Reference,
		Status:    paystackStatus(env.Data.Status),
		Amount:    fromMinor(env.Data.Amount),
		Currency:  env.Data.Currency,
		Message:   env.Data.GatewayResponse,
		Raw:       raw,
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	if t, err := time.Parse(time.RFC3339, env.Data.PaidAt); err == nil {
		t = t.UTC()
		v.PaidAt = &t
	}
	return v, nil
}

func paystackStatus(s string) Status {
	switch s {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

type paystackWebhook struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

// ParseWebhook decodes a Paystack event. Only charge.success settles an order.
func (p *Paystack) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode paystack webhook: %w", err)
	}
	return &WebhookEvent{
		Type:      hook.Event,
		Reference: hook.Data.Reference,
		Succeeded: hook.Event == paystackChargeSuccess,
		Amount:    fromMinor(hook.Data.Amount),
		Currency:  hook.Data.Currency,
		Raw:       body,
	}, nil
}

var hundred = decimal.NewFromInt(100)

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinor(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(hundred)
}

func reason(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}
