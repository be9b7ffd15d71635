package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Totals aggregates completed refunds over a period.
type Totals struct {
	Count          int64 `json:"count"`
	AmountCents    int64 `json:"amount_cents"`
	WorkerCents    int64 `json:"worker_cents"`
	PlatformCents  int64 `json:"platform_cents"`
	AgencyCents    int64 `json:"agency_cents"`
	ShortfallCents int64 `json:"shortfall_cents"`
	FullCount      int64 `json:"full_count"`
	PartialCount   int64 `json:"partial_count"`
	AutoCount      int64 `json:"auto_count"`
	FailedCount    int64 `json:"failed_count"`
}

// Repository persists refund records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	FindByKey(ctx context.Context, key string) (*models.Refund, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)
	Totals(ctx context.Context, from, to time.Time) (Totals, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// FindByKey returns nil when no refund carries the key.
func (r *repository) FindByKey(ctx context.Context, key string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Totals(ctx context.Context, from, to time.Time) (Totals, error) {
	var out Totals
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select(`COUNT(*) AS count,
			COALESCE(SUM(amount_cents), 0) AS amount_cents,
			COALESCE(SUM(worker_cents), 0) AS worker_cents,
			COALESCE(SUM(platform_cents), 0) AS platform_cents,
			COALESCE(SUM(agency_cents), 0) AS agency_cents,
			COALESCE(SUM(shortfall_cents), 0) AS shortfall_cents,
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS full_count,
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS partial_count,
			COALESCE(SUM(CASE WHEN "trigger" = ? THEN 1 ELSE 0 END), 0) AS auto_count`,
			enums.RefundTypeFull, enums.RefundTypePartial, enums.RefundTriggerAuto).
		Where("status = ?", enums.RefundStatusCompleted).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Scan(&out).Error
	if err != nil {
		return Totals{}, err
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("status = ?", enums.RefundStatusFailed).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Count(&out.FailedCount).Error; err != nil {
		return Totals{}, err
	}
	return out, nil
}
