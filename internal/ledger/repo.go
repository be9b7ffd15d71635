package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/pagination"
)

// PaymentFilter narrows payment listings. Zero values are ignored.
type PaymentFilter struct {
	Status        enums.PaymentStatus
	From          *time.Time
	To            *time.Time
	RecipientType enums.RecipientType
	RecipientID   *uuid.UUID
	BusinessID    *uuid.UUID
	Limit         int
	Cursor        *pagination.Cursor
}

// StatusTotals aggregates payment amounts for one status.
type StatusTotals struct {
	Status                enums.PaymentStatus
	Count                 int64
	GrossCents            int64
	WorkerCents           int64
	PlatformFeeCents      int64
	AgencyCommissionCents int64
	RefundedCents         int64
	RefundedPlatformCents int64
	RefundedAgencyCents   int64
	PaidOutCents          int64
	ShortfallCents        int64
}

// Repository manages persistence for payments and their ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaymentByShift(ctx context.Context, shiftAssignmentID uuid.UUID) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEntry, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error)
	TotalsByStatus(ctx context.Context, from, to time.Time) ([]StatusTotals, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockPayment reads the payment row with FOR UPDATE. Every mutation of a
// payment goes through this lock, which serializes writers per payment.
func (r *repository) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByShift(ctx context.Context, shiftAssignmentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("shift_assignment_id = ?", shiftAssignmentID).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("sequence ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		query = query.Where("escrow_started_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("escrow_started_at < ?", filter.To.UTC())
	}
	switch filter.RecipientType {
	case enums.RecipientTypeWorker:
		if filter.RecipientID != nil {
			query = query.Where("worker_id = ?", *filter.RecipientID)
		}
	case enums.RecipientTypeAgency:
		if filter.RecipientID != nil {
			query = query.Where("agency_id = ?", *filter.RecipientID)
		} else {
			query = query.Where("agency_id IS NOT NULL")
		}
	}
	if filter.BusinessID != nil {
		query = query.Where("business_id = ?", *filter.BusinessID)
	}

	var payments []models.Payment
	if err := query.
		Scopes(pagination.Keyset("escrow_started_at", filter.Cursor, filter.Limit)).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// ListDueForRelease returns unflagged escrowed payments whose release time
// has passed. Flagged and disputed payments are never due.
func (r *repository) ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.PaymentStatusInEscrow).
		Where("is_flagged = ?", false).
		Where("scheduled_release_at <= ?", asOf.UTC()).
		Order("scheduled_release_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var payments []models.Payment
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) TotalsByStatus(ctx context.Context, from, to time.Time) ([]StatusTotals, error) {
	var rows []StatusTotals
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select(`status,
			COUNT(*) AS count,
			COALESCE(SUM(gross_cents), 0) AS gross_cents,
			COALESCE(SUM(worker_cents), 0) AS worker_cents,
			COALESCE(SUM(platform_fee_cents), 0) AS platform_fee_cents,
			COALESCE(SUM(agency_commission_cents), 0) AS agency_commission_cents,
			COALESCE(SUM(refunded_worker_cents + refunded_platform_cents + refunded_agency_cents), 0) AS refunded_cents,
			COALESCE(SUM(refunded_platform_cents), 0) AS refunded_platform_cents,
			COALESCE(SUM(refunded_agency_cents), 0) AS refunded_agency_cents,
			COALESCE(SUM(paid_out_worker_cents + paid_out_agency_cents), 0) AS paid_out_cents,
			COALESCE(SUM(shortfall_cents), 0) AS shortfall_cents`).
		Where("escrow_started_at >= ? AND escrow_started_at < ?", from.UTC(), to.UTC()).
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
