package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// NewHTTPClient builds the outbound client shared by provider clients. Every
// request is traced and bounded by requestTimeout; dialing by connectTimeout.
func NewHTTPClient(requestTimeout, connectTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	base.TLSHandshakeTimeout = connectTimeout
	base.ResponseHeaderTimeout = requestTimeout

	return &http.Client{
		Timeout:   requestTimeout,
		Transport: otelhttp.NewTransport(base),
	}
}

type call struct {
	gateway string
	method  string
	url     string
	header  http.Header
	body    any
}

// do performs c and decodes the JSON response into out. It returns the raw
// body so callers can keep the provider payload for audit.
func do(ctx context.Context, client *http.Client, c call, out any) ([]byte, error) {
	var reader io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return nil, &Error{Gateway: c.gateway, Kind: ErrRejected, Reason: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return nil, &Error{Gateway: c.gateway, Kind: ErrRejected, Reason: "build request", Err: err}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Gateway: c.gateway, Kind: ErrTransport, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Gateway: c.gateway, Kind: ErrTransport, Reason: "read response", Err: err}
	}

	if kind, failed := classifyStatus(resp.StatusCode); failed {
		return raw, &Error{
			Gateway: c.gateway,
			Kind:    kind,
			Reason:  failureReason(resp.StatusCode, raw),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &Error{Gateway: c.gateway, Kind: ErrTransport, Reason: "decode response", Err: err}
		}
	}
	return raw, nil
}

func classifyStatus(code int) (ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth, true
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return ErrTransport, true
	default:
		return ErrRejected, true
	}
}

// failureReason prefers the provider's own message over the bare status code.
func failureReason(code int, raw []byte) string {
	var body struct {
		Message         string `json:"message"`
		ResponseMessage string `json:"responseMessage"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.ResponseMessage != "" {
			return body.ResponseMessage
		}
	}
	return fmt.Sprintf("provider returned %d", code)
}

func asError(err error, target **Error) bool {
	return err != nil && errors.As(err, target)
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
