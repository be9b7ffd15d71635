package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/metrics"
	"github.com/angelmondragon/shiftpay-backend/pkg/rail"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

type noopRail struct{}

func (noopRail) Transfer(_ context.Context, req rail.TransferRequest) (*rail.TransferResult, error) {
	return &rail.TransferResult{Reference: req.PayoutID.String(), Status: "succeeded"}, nil
}

func TestSettlementRequiresDependencies(t *testing.T) {
	_, err := Settlement(SettlementParams{})
	require.Error(t, err)
}

func TestSettlementWiresEngine(t *testing.T) {
	cfg := &config.Config{
		Fees:    config.FeesConfig{PlatformFeeRate: "0.15", AgencyCommissionRate: "0.10", UrgentBonusRate: "0.05", DefaultCurrency: "USD"},
		Escrow:  config.EscrowConfig{HoldPeriod: 7 * 24 * time.Hour, MinHoldPeriod: 24 * time.Hour},
		Dispute: config.DisputeConfig{SLAWindow: 48 * time.Hour, WarningMargin: 12 * time.Hour},
		Payout:  config.PayoutConfig{MaxAttempts: 3, MinimumCents: 500, RetryBaseDelay: time.Minute, RetryMaxDelay: time.Hour, StaleAfter: 15 * time.Minute, BatchWorkers: 2},
	}
	reg := prometheus.NewRegistry()
	svc, err := Settlement(SettlementParams{
		Config:  cfg,
		DB:      sqlitetest.Open(t),
		Logger:  logger.New(logger.Options{ServiceName: "bootstrap-test", Output: io.Discard}),
		Metrics: metrics.NewSettlementMetrics(reg),
		Rail:    noopRail{},
	})
	require.NoError(t, err)

	res, err := svc.OpenEscrow(context.Background(), types.ServiceActor("shifts"), escrow.OpenInput{
		ShiftAssignmentID: uuid.New(),
		WorkerID:          uuid.New(),
		BusinessID:        uuid.New(),
		GrossCents:        10000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusInEscrow, res.Payment.Status)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
