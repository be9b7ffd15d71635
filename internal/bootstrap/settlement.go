package bootstrap

import (
	"fmt"

	"github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/internal/payouts"
	"github.com/angelmondragon/shiftpay-backend/internal/refunds"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/metrics"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/rail"
)

// SettlementParams holds what the api and cron-worker share to build the
// settlement engine. Rail defaults to the HTTP rail client from config.
type SettlementParams struct {
	Config  *config.Config
	DB      *db.Client
	Logger  *logger.Logger
	Metrics *metrics.SettlementMetrics
	Rail    payouts.Rail
}

// Settlement wires the ledger, hold manager, dispute, refund and payout
// services behind one coordinator.
func Settlement(params SettlementParams) (settlement.Service, error) {
	if params.Config == nil || params.DB == nil || params.Logger == nil {
		return nil, fmt.Errorf("config, db and logger required")
	}
	cfg := params.Config
	conn := params.DB.DB()

	var (
		appendRecorder ledger.AppendRecorder
		breachRecorder disputes.BreachRecorder
		refundRecorder refunds.RefundRecorder
		payoutRecorder payouts.Recorder
	)
	if params.Metrics != nil {
		appendRecorder = params.Metrics
		breachRecorder = params.Metrics
		refundRecorder = params.Metrics
		payoutRecorder = params.Metrics
	}

	railClient := params.Rail
	if railClient == nil {
		client, err := rail.NewClient(cfg.Rail)
		if err != nil {
			return nil, fmt.Errorf("rail client: %w", err)
		}
		railClient = client
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), params.Logger)

	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:     ledgerRepo,
		TxRunner: params.DB,
		Metrics:  appendRecorder,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		Ledger: ledgerSvc,
		Repo:   ledgerRepo,
		Fees:   cfg.Fees,
		Escrow: cfg.Escrow,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}

	disputeSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:    disputes.NewRepository(conn),
		Ledger:  ledgerSvc,
		Config:  cfg.Dispute,
		Metrics: breachRecorder,
	})
	if err != nil {
		return nil, fmt.Errorf("dispute service: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:    refunds.NewRepository(conn),
		Ledger:  ledgerSvc,
		Config:  cfg.Refund,
		Metrics: refundRecorder,
	})
	if err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		DB:          params.DB,
		Repo:        payouts.NewRepository(conn),
		Ledger:      ledgerSvc,
		Rail:        railClient,
		Outbox:      emitter,
		Config:      cfg.Payout,
		RailTimeout: cfg.Rail.Timeout,
		Metrics:     payoutRecorder,

		DefaultCurrency: cfg.Fees.DefaultCurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}

	return settlement.NewService(settlement.ServiceParams{
		DB:           params.DB,
		Ledger:       ledgerSvc,
		LedgerRepo:   ledgerRepo,
		Escrow:       escrowSvc,
		Disputes:     disputeSvc,
		Refunds:      refundSvc,
		Payouts:      payoutSvc,
		Outbox:       emitter,
		Logger:       params.Logger,
		BatchWorkers: cfg.Payout.BatchWorkers,
	})
}
