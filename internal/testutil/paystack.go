package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Additional-Code/storefront/internal/gateway"
)

// PaystackSecret is the secret the fake server and its client share.
const PaystackSecret = "sk_test_storefront"

// FakePaystack is an httptest server speaking enough of the Paystack
// transaction API for checkout and reconciliation tests.
type FakePaystack struct {
	Server *httptest.Server

	mu           sync.Mutex
	initStatus   int
	verifyStatus string
	amounts      map[string]int64
	inits        int
	verifies     int
}

// NewFakePaystack starts a server that accepts every initialization and
// reports payments as pending until told otherwise.
func NewFakePaystack(t testing.TB) *FakePaystack {
	t.Helper()

	f := &FakePaystack{verifyStatus: "ongoing", amounts: make(map[string]int64)}
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/initialize", f.initialize)
	mux.HandleFunc("/transaction/verify/", f.verify)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// Client returns a gateway client pointed at the fake.
func (f *FakePaystack) Client() *gateway.Paystack {
	return gateway.NewPaystack(f.Server.URL, PaystackSecret, f.Server.Client())
}

// FailInitialize makes initialization answer with status.
func (f *FakePaystack) FailInitialize(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initStatus = status
}

// SetVerifyStatus sets the status verification reports (success, failed, ongoing).
func (f *FakePaystack) SetVerifyStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyStatus = status
}

// Calls returns how many initializations and verifications were served.
func (f *FakePaystack) Calls() (inits, verifies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.verifies
}

func (f *FakePaystack) initialize(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++

	if f.initStatus != 0 {
		w.WriteHeader(f.initStatus)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction declined"}`))
		return
	}

	var body struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.amounts[body.Reference] = body.Amount

	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  true,
		"message": "Authorization URL created",
		"data": map[string]any{
			"authorization_url": "https://checkout.paystack.com/" + body.Reference,
			"access_code":       "ac_" + body.Reference,
			"reference":         body.Reference,
		},
	})
}

func (f *FakePaystack) verify(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++

	ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
	amount, ok := f.amounts[ref]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
		return
	}

	paidAt := ""
	if f.verifyStatus == "success" {
		paidAt = "2026-03-01T10:00:00Z"
	}
	_, _ = fmt.Fprintf(w, `{"status":true,"data":{"status":%q,"reference":%q,"amount":%d,"currency":"NGN","paid_at":%q}}`,
		f.verifyStatus, ref, amount, paidAt)
}

// RegisterAmount lets verification answer for a reference that was not initialized here.
func (f *FakePaystack) RegisterAmount(reference string, kobo int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amounts[reference] = kobo
}
