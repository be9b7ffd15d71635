package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Repository persists disputes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	Save(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindActiveByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error)
	FindLatestByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error)
	ListBreachCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Dispute, error)
	MarkBreached(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a dispute repository to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) Save(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Save(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

// FindActiveByPayment returns nil when the payment has no unresolved dispute.
func (r *repository) FindActiveByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND status <> ?", paymentID, enums.DisputeStatusResolved).
		First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindLatestByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("opened_at DESC").
		First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

// ListBreachCandidates returns unresolved disputes past their deadline that
// have not been marked breached yet.
func (r *repository) ListBreachCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Dispute, error) {
	query := r.db.WithContext(ctx).
		Where("status <> ?", enums.DisputeStatusResolved).
		Where("sla_breached_at IS NULL").
		Where("sla_deadline <= ?", asOf.UTC()).
		Order("sla_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.Dispute
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkBreached stamps sla_breached_at once. It reports false when another
// scan got there first.
func (r *repository) MarkBreached(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND sla_breached_at IS NULL", id).
		Update("sla_breached_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
