// Package rail is the JSON-over-HTTP client for the external payout rail.
package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

const (
	transfersPath               = "/v1/transfers"
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 4096

	statusRejected = "rejected"
)

var errBaseURLRequired = errors.New("payout rail base url is required")

// Client submits transfers to the payout rail.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the rail client from configuration.
func NewClient(cfg config.RailConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// TransferRequest is one disbursement. IdempotencyKey must stay stable
// across retries of the same payout so the rail never pays twice.
type TransferRequest struct {
	IdempotencyKey string                 `json:"-"`
	PayoutID       uuid.UUID              `json:"payout_id"`
	RecipientType  enums.RecipientType    `json:"recipient_type"`
	RecipientID    uuid.UUID              `json:"recipient_id"`
	Method         enums.PayoutMethodType `json:"method"`
	Destination    string                 `json:"destination"`
	AmountCents    int64                  `json:"amount_cents"`
	Currency       enums.Currency         `json:"currency"`
}

// TransferResult is the rail's acknowledgement of a completed transfer.
type TransferResult struct {
	Reference string `json:"id"`
	Status    string `json:"status"`
}

type railError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transfer submits the request. Failures come back as *errors.Error with
// CodeRailRejected for permanent refusals and CodeTransient for anything
// worth retrying.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payout rail client not configured")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "transfer amount must be positive")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer idempotency key is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal transfer request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transfersPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build transfer request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "payout rail unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "read transfer response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var result TransferResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "decode transfer response")
	}
	if strings.EqualFold(result.Status, statusRejected) {
		return nil, pkgerrors.New(pkgerrors.CodeRailRejected, "payout rail rejected transfer").
			WithDetails(map[string]any{"rail_reference": result.Reference})
	}
	return &result, nil
}

func classifyStatus(status int, body []byte) error {
	var detail railError
	_ = json.Unmarshal(body, &detail)
	message := strings.TrimSpace(detail.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	details := map[string]any{"status_code": status}
	if detail.Code != "" {
		details["rail_code"] = detail.Code
	}
	cause := fmt.Errorf("status %d: %s", status, message)
	if Retryable(status) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, cause, "payout rail temporarily unavailable").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeRailRejected, cause, "payout rail rejected transfer").WithDetails(details)
}

// Retryable reports whether a non-2xx rail status is worth retrying.
func Retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}
