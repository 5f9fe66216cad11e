package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/storefront/internal/gateway"
)

type fakeMonnify struct {
	logins     atomic.Int32
	rejectOnce atomic.Bool
	payment    string
}

func (f *fakeMonnify) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "MK_TEST", user)
		assert.Equal(t, "secret", pass)
		f.logins.Add(1)
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"accessToken":"tok","expiresIn":3600}}`))
	})
	mux.HandleFunc("/api/v1/merchant/transactions/init-transaction", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 1053.75, body["amount"])
		assert.Equal(t, "CC123", body["contractCode"])
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"transactionReference":"MNFY|1","paymentReference":"` + body["paymentReference"].(string) + `","checkoutUrl":"https://sandbox.sdk.monnify.com/checkout/MNFY|1"}}`))
	})
	mux.HandleFunc("/api/v2/merchant/transactions/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SG20260001", r.URL.Query().Get("paymentReference"))
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"paymentReference":"SG20260001","paymentStatus":"` + f.payment + `","amountPaid":1053.75,"currencyCode":"NGN","paidOn":"2026-03-01 10:00:00.0"}}`))
	})
	return mux
}

func TestMonnifyInitializeReusesToken(t *testing.T) {
	fake := &fakeMonnify{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m := gateway.NewMonnify(srv.URL, "MK_TEST", "secret", "CC123", srv.Client())
	req := gateway.InitRequest{Reference: "SG20260001", Amount: decimal.RequireFromString("1053.75"), Currency: "NGN"}

	for i := 0; i < 2; i++ {
		session, err := m.Initialize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "MNFY|1", session.ProviderReference)
		assert.Contains(t, session.RedirectURL, "checkout")
	}
	assert.EqualValues(t, 1, fake.logins.Load())
}

func TestMonnifyLogsInAgainWhenTokenRefused(t *testing.T) {
	fake := &fakeMonnify{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m := gateway.NewMonnify(srv.URL, "MK_TEST", "secret", "CC123", srv.Client())
	req := gateway.InitRequest{Reference: "SG20260001", Amount: decimal.RequireFromString("1053.75")}
	_, err := m.Initialize(context.Background(), req)
	require.NoError(t, err)

	fake.rejectOnce.Store(true)
	_, err = m.Initialize(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.logins.Load())
}

func TestMonnifyVerify(t *testing.T) {
	cases := map[string]gateway.Status{
		"PAID":    gateway.StatusSuccess,
		"PENDING": gateway.StatusPending,
		"EXPIRED": gateway.StatusFailed,
	}
	for remote, want := range cases {
		t.Run(remote, func(t *testing.T) {
			fake := &fakeMonnify{payment: remote}
			srv := httptest.NewServer(fake.handler(t))
			defer srv.Close()

			m := gateway.NewMonnify(srv.URL, "MK_TEST", "secret", "CC123", srv.Client())
			v, err := m.Verify(context.Background(), "SG20260001")
			require.NoError(t, err)
			assert.Equal(t, want, v.Status)
			assert.True(t, v.Amount.Equal(decimal.RequireFromString("1053.75")))
			require.NotNil(t, v.PaidAt)
		})
	}
}

func TestMonnifyWebhook(t *testing.T) {
	m := gateway.NewMonnify("http://unused", "MK_TEST", "secret", "CC123", nil)
	body := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"SG20260001","amountPaid":"1053.75","currencyCode":"NGN","paymentStatus":"PAID"}}`)

	assert.True(t, m.VerifySignature(body, m.Sign(body)))
	assert.False(t, m.VerifySignature(body, "deadbeef"))
	assert.False(t, m.VerifySignature(body, ""))

	event, err := m.ParseWebhook(body)
	require.NoError(t, err)
	assert.True(t, event.Succeeded)
	assert.Equal(t, "SG20260001", event.Reference)

	assert.Equal(t, "NGN", event.Currency)

	event, err = m.ParseWebhook([]byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"SG20260001","amountPaid":"1100.00","paymentStatus":"OVERPAID"}}`))
	require.NoError(t, err)
	assert.True(t, event.Succeeded)

	event, err = m.ParseWebhook([]byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"SG20260001","paymentStatus":"PARTIALLY_PAID"}}`))
	require.NoError(t, err)
	assert.False(t, event.Succeeded)
}
