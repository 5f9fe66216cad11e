package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NameMonnify identifies the Monnify client.
	NameMonnify = "monnify"

	monnifySignatureHeader = "Monnify-Signature"
	monnifySuccessEvent    = "SUCCESSFUL_TRANSACTION"

	// tokens are refreshed this long before they expire
	monnifyTokenSkew = 30 * time.Second
)

var monnifyPaidOnLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.0",
	"02/01/2006 03:04:05 PM",
}

// Monnify charges in major units and authenticates with short-lived bearer tokens.
type Monnify struct {
	HMACVerifier

	baseURL      string
	apiKey       string
	secretKey    string
	contractCode string
	client       *http.Client
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewMonnify builds a client for the Monnify merchant API.
func NewMonnify(baseURL, apiKey, secretKey, contractCode string, client *http.Client) *Monnify {
	if client == nil {
		client = NewHTTPClient(0, 0)
	}
	return &Monnify{
		HMACVerifier: NewSHA512Verifier(monnifySignatureHeader, secretKey),
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		secretKey:    secretKey,
		contractCode: contractCode,
		client:       client,
		now:          time.Now,
	}
}

func (m *Monnify) Name() string { return NameMonnify }

type monnifyEnvelope[T any] struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
	ResponseBody      T      `json:"responseBody"`
}

type monnifyLogin struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type monnifyInit struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

type monnifyTransaction struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentDescription   string          `json:"paymentDescription"`
	CurrencyCode         string          `json:"currencyCode"`
	PaidOn               string          `json:"paidOn"`
}

// accessToken returns a cached bearer token, logging in when it is missing or stale.
func (m *Monnify) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.expires) {
		return m.token, nil
	}

	h := http.Header{}
	h.Set("Authorization", "Basic "+basicAuth(m.apiKey, m.secretKey))

	var env monnifyEnvelope[monnifyLogin]
	_, err := do(ctx, m.client, call{
		gateway: NameMonnify,
		method:  http.MethodPost,
		url:     m.baseURL + "/api/v1/auth/login",
		header:  h,
	}, &env)
	if err != nil {
		return "", err
	}
	if !env.RequestSuccessful || env.ResponseBody.AccessToken == "" {
		return "", &Error{Gateway: NameMonnify, Kind: ErrAuth, Reason: reason(env.ResponseMessage, "login refused")}
	}

	m.token = env.ResponseBody.AccessToken
	m.expires = m.now().Add(time.Duration(env.ResponseBody.ExpiresIn)*time.Second - monnifyTokenSkew)
	return m.token, nil
}

func (m *Monnify) forgetToken() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// authorized runs c with a bearer token, logging in again once if the token was refused.
func (m *Monnify) authorized(ctx context.Context, c call, out any) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := m.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		c.header = http.Header{}
		c.header.Set("Authorization", "Bearer "+token)

		raw, err := do(ctx, m.client, c, out)
		var gwErr *Error
		if attempt == 0 && asError(err, &gwErr) && gwErr.Kind == ErrAuth {
			m.forgetToken()
			continue
		}
		return raw, err
	}
}

// Initialize calls POST /api/v1/merchant/transactions/init-transaction.
func (m *Monnify) Initialize(ctx context.Context, req InitRequest) (*Session, error) {
	description := req.Description
	if description == "" {
		description = "Order " + req.Reference
	}
	body := map[string]any{
		"amount":             json.Number(req.Amount.StringFixed(2)),
		"customerName":       req.CustomerName,
		"customerEmail":      req.CustomerEmail,
		"paymentReference":   req.Reference,
		"paymentDescription": description,
		"currencyCode":       req.Currency,
		"contractCode":       m.contractCode,
		"redirectUrl":        req.CallbackURL,
		"paymentMethods":     []string{"CARD", "ACCOUNT_TRANSFER"},
	}
	if len(req.Metadata) > 0 {
		body["metaData"] = req.Metadata
	}

	var env monnifyEnvelope[monnifyInit]
	_, err := m.authorized(ctx, call{
		gateway: NameMonnify,
		method:  http.MethodPost,
		url:     m.baseURL + "/api/v1/merchant/transactions/init-transaction",
		body:    body,
	}, &env)
	if err != nil {
		return nil, err
	}
	if !env.RequestSuccessful || env.ResponseBody.CheckoutURL == "" {
		return nil, &Error{Gateway: NameMonnify, Kind: ErrRejected, Reason: reason(env.ResponseMessage, "initialization declined")}
	}
	if env.ResponseBody.PaymentReference != req.Reference {
		return nil, &Error{
			Gateway: NameMonnify,
			Kind:    ErrRejected,
			Reason:  fmt.Sprintf("reference mismatch: sent %q, got %q", req.Reference, env.ResponseBody.PaymentReference),
		}
	}

	return &Session{
		Reference:         env.ResponseBody.PaymentReference,
		ProviderReference: env.ResponseBody.TransactionReference,
		RedirectURL:       env.ResponseBody.CheckoutURL,
	}, nil
}

// Verify calls GET /api/v2/merchant/transactions/query by payment reference.
func (m *Monnify) Verify(ctx context.Context, reference string) (*Verification, error) {
	var env monnifyEnvelope[monnifyTransaction]
	raw, err := m.authorized(ctx, call{
		gateway: NameMonnify,
		method:  http.MethodGet,
		url:     m.baseURL + "/api/v2/merchant/transactions/query?paymentReference=" + url.QueryEscape(reference),
	}, &env)
	if err != nil {
		return nil, err
	}
	if !env.RequestSuccessful {
		return nil, &Error{Gateway: NameMonnify, Kind: ErrRejected, Reason: reason(env.ResponseMessage, "verification declined")}
	}

	tx := env.ResponseBody
	v := &Verification{
		Reference: tx.PaymentReference,
		Status:    monnifyStatus(tx.PaymentStatus),
		Amount:    tx.AmountPaid,
		Currency:  tx.CurrencyCode,
		Message:   tx.PaymentStatus,
		Raw:       raw,
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	v.PaidAt = parseMonnifyTime(tx.PaidOn)
	return v, nil
}

func monnifyStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "PAID", "OVERPAID":
		return StatusSuccess
	case "FAILED", "EXPIRED", "CANCELLED", "REVERSED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func parseMonnifyTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range monnifyPaidOnLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

type monnifyWebhook struct {
	EventType string             `json:"eventType"`
	EventData monnifyTransaction `json:"eventData"`
}

// ParseWebhook decodes a Monnify event. A successful transaction must also
// report PAID or OVERPAID.
func (m *Monnify) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var hook monnifyWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode monnify webhook: %w", err)
	}
	return &WebhookEvent{
		Type:      hook.EventType,
		Reference: hook.EventData.PaymentReference,
		Succeeded: hook.EventType == monnifySuccessEvent && monnifyStatus(hook.EventData.PaymentStatus) == StatusSuccess,
		Amount:    hook.EventData.AmountPaid,
		Currency:  hook.EventData.CurrencyCode,
		Raw:       body,
	}, nil
}
