package rail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

func TestTransferSuccess(t *testing.T) {
	payoutID := uuid.New()
	var captured struct {
		path   string
		key    string
		auth   string
		amount float64
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.key = r.Header.Get("Idempotency-Key")
		captured.auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		captured.amount, _ = payload["amount_cents"].(float64)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_123","status":"completed"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.Transfer(context.Background(), transferRequest(payoutID))
	require.NoError(t, err)
	assert.Equal(t, "tr_123", result.Reference)
	assert.Equal(t, "/v1/transfers", captured.path)
	assert.Equal(t, "payout:"+payoutID.String(), captured.key)
	assert.Equal(t, "Bearer rail-key", captured.auth)
	assert.Equal(t, float64(8500), captured.amount)
}

func TestTransferClassifiesStatuses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   pkgerrors.Code
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"code":"invalid_account","message":"account closed"}`, code: pkgerrors.CodeRailRejected},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{}`, code: pkgerrors.CodeRailRejected},
		{name: "timeout", status: http.StatusRequestTimeout, body: ``, code: pkgerrors.CodeTransient},
		{name: "throttled", status: http.StatusTooManyRequests, body: ``, code: pkgerrors.CodeTransient},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, code: pkgerrors.CodeTransient},
		{name: "bad gateway", status: http.StatusBadGateway, body: ``, code: pkgerrors.CodeTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Transfer(context.Background(), transferRequest(uuid.New()))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestTransferRejectedStatusInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_9","status":"rejected"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Transfer(context.Background(), transferRequest(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRailRejected))
}

func TestTransferNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Transfer(context.Background(), transferRequest(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransient))
}

func TestTransferTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(config.RailConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.Transfer(context.Background(), transferRequest(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTransient))
}

func TestTransferValidatesRequest(t *testing.T) {
	client := newTestClient(t, "http://rail.test")

	req := transferRequest(uuid.New())
	req.AmountCents = 0
	_, err := client.Transfer(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	req = transferRequest(uuid.New())
	req.IdempotencyKey = " "
	_, err = client.Transfer(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.RailConfig{})
	require.Error(t, err)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.RailConfig{BaseURL: baseURL, APIKey: "rail-key", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client
}

func transferRequest(payoutID uuid.UUID) TransferRequest {
	return TransferRequest{
		IdempotencyKey: "payout:" + payoutID.String(),
		PayoutID:       payoutID,
		RecipientType:  enums.RecipientTypeWorker,
		RecipientID:    uuid.New(),
		Method:         enums.PayoutMethodBankTransfer,
		Destination:    "acct_001",
		AmountCents:    8500,
		Currency:       enums.CurrencyUSD,
	}
}
