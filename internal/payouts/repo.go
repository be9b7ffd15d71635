package payouts

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

// Filter narrows payout listings. Zero values are ignored.
type Filter struct {
	Status        enums.PayoutStatus
	RecipientType enums.RecipientType
	RecipientID   *uuid.UUID
	Limit         int
	Cursor        *pagination.Cursor
}

// Repository persists payouts, their items and attempts, and the recipient
// payout methods.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPendingForRecipient(ctx context.Context, recipientType enums.RecipientType, recipientID uuid.UUID, currency enums.Currency) (*models.Payout, error)
	Create(ctx context.Context, payout *models.Payout) error
	Save(ctx context.Context, payout *models.Payout) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindItem(ctx context.Context, paymentID uuid.UUID, recipientType enums.RecipientType) (*models.PayoutItem, error)
	CreateItem(ctx context.Context, item *models.PayoutItem) error
	SaveItem(ctx context.Context, item *models.PayoutItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	ListItemsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PayoutItem, error)
	CreateAttempt(ctx context.Context, attempt *models.PayoutAttempt) error
	SaveAttempt(ctx context.Context, attempt *models.PayoutAttempt) error
	FindAttempt(ctx context.Context, payoutID uuid.UUID, number int) (*models.PayoutAttempt, error)
	ListAttempts(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutAttempt, error)
	List(ctx context.Context, filter Filter) ([]models.Payout, error)
	ListPending(ctx context.Context, limit int) ([]models.Payout, error)
	ListFailed(ctx context.Context, limit int) ([]models.Payout, error)
	ListDueRetries(ctx context.Context, asOf time.Time, maxAttempts, limit int) ([]models.Payout, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Payout, error)
	FindMethod(ctx context.Context, recipientType enums.RecipientType, recipientID uuid.UUID) (*models.PayoutMethod, error)
	UpsertMethod(ctx context.Context, method *models.PayoutMethod) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a payout repository to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindPendingForRecipient returns the open aggregate payout for a recipient,
// or nil when none is pending.
func (r *repository) FindPendingForRecipient(ctx context.Context, recipientType enums.RecipientType, recipientID uuid.UUID, currency enums.Currency) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("recipient_type = ? AND recipient_id = ?", recipientType, recipientID).
		Where("currency = ? AND status = ?", currency, enums.PayoutStatusPending).
		Order("created_at ASC").
		First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(payout).Error
}

func (r *repository) Save(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(payout).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Payout{}).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", id).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// LockByID reads the payout with FOR UPDATE and its items.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("payout_id = ?", id).
		Order("created_at ASC").
		Order("id ASC").
		Find(&payout.Items).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) FindItem(ctx context.Context, paymentID uuid.UUID, recipientType enums.RecipientType) (*models.PayoutItem, error) {
	var item models.PayoutItem
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND recipient_type = ?", paymentID, recipientType).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.PayoutItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) SaveItem(ctx context.Context, item *models.PayoutItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PayoutItem{}).Error
}

func (r *repository) ListItemsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PayoutItem, error) {
	var items []models.PayoutItem
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("recipient_type ASC").
		Find(&items).Error
	return items, err
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.PayoutAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) SaveAttempt(ctx context.Context, attempt *models.PayoutAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *repository) FindAttempt(ctx context.Context, payoutID uuid.UUID, number int) (*models.PayoutAttempt, error) {
	var attempt models.PayoutAttempt
	err := r.db.WithContext(ctx).
		Where("payout_id = ? AND attempt_number = ?", payoutID, number).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) ListAttempts(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutAttempt, error) {
	var attempts []models.PayoutAttempt
	err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *repository) List(ctx context.Context, filter Filter) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.RecipientType != "" {
		query = query.Where("recipient_type = ?", filter.RecipientType)
	}
	if filter.RecipientID != nil {
		query = query.Where("recipient_id = ?", *filter.RecipientID)
	}
	var payouts []models.Payout
	err := query.
		Scopes(pagination.Keyset("created_at", filter.Cursor, filter.Limit)).
		Find(&payouts).Error
	return payouts, err
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.Payout, error) {
	return r.listByStatus(ctx, enums.PayoutStatusPending, limit)
}

// ListFailed returns failed payouts that still carry an amount.
func (r *repository) ListFailed(ctx context.Context, limit int) ([]models.Payout, error) {
	return r.listByStatus(ctx, enums.PayoutStatusFailed, limit)
}

func (r *repository) listByStatus(ctx context.Context, status enums.PayoutStatus, limit int) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND amount_cents > 0", status).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var payouts []models.Payout
	err := query.Find(&payouts).Error
	return payouts, err
}

// ListDueRetries returns transient failures whose backoff has elapsed and
// that are still below the attempt ceiling.
func (r *repository) ListDueRetries(ctx context.Context, asOf time.Time, maxAttempts, limit int) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND last_failure_kind = ?", enums.PayoutStatusFailed, enums.PayoutFailureTransient).
		Where("amount_cents > 0").
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", asOf.UTC()).
		Where("attempt_count < max_attempts OR attempt_count < ?", maxAttempts).
		Order("next_retry_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var payouts []models.Payout
	err := query.Find(&payouts).Error
	return payouts, err
}

// ListStaleProcessing returns payouts stuck in processing since before the
// given time, typically left behind by a crashed dispatcher.
func (r *repository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", enums.PayoutStatusProcessing, before.UTC()).
		Order("processing_started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var payouts []models.Payout
	err := query.Find(&payouts).Error
	return payouts, err
}

func (r *repository) FindMethod(ctx context.Context, recipientType enums.RecipientType, recipientID uuid.UUID) (*models.PayoutMethod, error) {
	var method models.PayoutMethod
	err := r.db.WithContext(ctx).
		Where("recipient_type = ? AND recipient_id = ?", recipientType, recipientID).
		First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

// UpsertMethod stores the recipient's payout method, replacing any previous one.
func (r *repository) UpsertMethod(ctx context.Context, method *models.PayoutMethod) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "recipient_type"}, {Name: "recipient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"method", "destination_ref", "updated_at"}),
		}).
		Create(method).Error
}
