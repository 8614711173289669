package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
)

// DefaultIdempotencyWindow bounds how long a submission token deduplicates repeated creates.
const DefaultIdempotencyWindow = 10 * time.Minute

var (
	// ErrMissingFeedbackID indicates an empty feedback identifier was supplied.
	ErrMissingFeedbackID = errors.New("storage: missing feedback id")
	// ErrNilDatabase indicates the store was built without a database handle.
	ErrNilDatabase = errors.New("storage: nil database")
)

// CreateResult describes the outcome of FeedbackStore.Create.
type CreateResult struct {
	Feedback  model.Feedback
	Duplicate bool
}

// FeedbackStore persists feedback records.
type FeedbackStore struct {
	database          *gorm.DB
	idempotencyWindow time.Duration
	now               func() time.Time
}

// NewFeedbackStore builds a FeedbackStore. A non-positive window disables submission token deduplication.
func NewFeedbackStore(database *gorm.DB, idempotencyWindow time.Duration) *FeedbackStore {
	return &FeedbackStore{
		database:          database,
		idempotencyWindow: idempotencyWindow,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for CreatedAt and token expiry.
func (store *FeedbackStore) WithClock(now func() time.Time) *FeedbackStore {
	if now != nil {
		store.now = now
	}
	return store
}

// Create inserts the feedback record. When submissionToken is non-empty and was seen inside the
// idempotency window, the originally stored record is returned and nothing is inserted.
func (store *FeedbackStore) Create(ctx context.Context, feedback model.Feedback, submissionToken string) (CreateResult, error) {
	if store == nil || store.database == nil {
		return CreateResult{}, ErrNilDatabase
	}
	if strings.TrimSpace(feedback.ID) == "" {
		feedback.ID = NewID()
	}
	feedback.CreatedAt = store.now()

	token := strings.TrimSpace(submissionToken)
	if token == "" || store.idempotencyWindow <= 0 {
		if err := store.database.WithContext(ctx).Create(&feedback).Error; err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Feedback: feedback}, nil
	}

	var result CreateResult
	transactionErr := store.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		existing, found, lookupErr := store.lookupToken(transaction, token)
		if lookupErr != nil {
			return lookupErr
		}
		if found {
			result = CreateResult{Feedback: existing, Duplicate: true}
			return nil
		}

		if err := transaction.Where("token = ?", token).Delete(&model.SubmissionToken{}).Error; err != nil {
			return err
		}
		if err := transaction.Create(&feedback).Error; err != nil {
			return err
		}
		submission := model.SubmissionToken{
			Token:      token,
			FeedbackID: feedback.ID,
			CreatedAt:  feedback.CreatedAt,
		}
		if err := transaction.Create(&submission).Error; err != nil {
			return err
		}
		result = CreateResult{Feedback: feedback}
		return nil
	})
	if transactionErr != nil {
		// A concurrent create with the same token may have won the insert.
		existing, found, lookupErr := store.lookupToken(store.database.WithContext(ctx), token)
		if lookupErr == nil && found {
			return CreateResult{Feedback: existing, Duplicate: true}, nil
		}
		return CreateResult{}, transactionErr
	}

	return result, nil
}

func (store *FeedbackStore) lookupToken(database *gorm.DB, token string) (model.Feedback, bool, error) {
	var submission model.SubmissionToken
	tokenErr := database.Where("token = ?", token).Limit(1).Find(&submission).Error
	if tokenErr != nil {
		return model.Feedback{}, false, tokenErr
	}
	if submission.Token == "" {
		return model.Feedback{}, false, nil
	}
	if store.now().Sub(submission.CreatedAt) >= store.idempotencyWindow {
		return model.Feedback{}, false, nil
	}

	var feedback model.Feedback
	feedbackErr := database.Where("id = ?", submission.FeedbackID).Limit(1).Find(&feedback).Error
	if feedbackErr != nil {
		return model.Feedback{}, false, feedbackErr
	}
	if feedback.ID == "" {
		return model.Feedback{}, false, nil
	}
	return feedback, true, nil
}

// List returns every record in insertion order.
func (store *FeedbackStore) List(ctx context.Context) ([]model.Feedback, error) {
	if store == nil || store.database == nil {
		return nil, ErrNilDatabase
	}
	feedbacks := make([]model.Feedback, 0)
	if err := store.database.WithContext(ctx).
		Order("seq ASC").
		Find(&feedbacks).Error; err != nil {
		return nil, err
	}
	return feedbacks, nil
}

// Delete removes the record with the given id. A missing id is not an error; the boolean
// reports whether a record was actually removed.
func (store *FeedbackStore) Delete(ctx context.Context, feedbackID string) (bool, error) {
	if store == nil || store.database == nil {
		return false, ErrNilDatabase
	}
	trimmedID := strings.TrimSpace(feedbackID)
	if trimmedID == "" {
		return false, ErrMissingFeedbackID
	}

	var removed int64
	deleteErr := store.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		deletion := transaction.Where("id = ?", trimmedID).Delete(&model.Feedback{})
		if deletion.Error != nil {
			return deletion.Error
		}
		removed = deletion.RowsAffected
		return transaction.Where("feedback_id = ?", trimmedID).Delete(&model.SubmissionToken{}).Error
	})
	if deleteErr != nil {
		return false, deleteErr
	}
	return removed > 0, nil
}

// Count returns the number of stored records.
func (store *FeedbackStore) Count(ctx context.Context) (int64, error) {
	if store == nil || store.database == nil {
		return 0, ErrNilDatabase
	}
	var total int64
	if err := store.database.WithContext(ctx).Model(&model.Feedback{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// PurgeExpiredTokens deletes submission tokens older than the idempotency window.
func (store *FeedbackStore) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	if store == nil || store.database == nil {
		return 0, ErrNilDatabase
	}
	if store.idempotencyWindow <= 0 {
		return 0, nil
	}
	cutoff := store.now().Add(-store.idempotencyWindow)
	purge := store.database.WithContext(ctx).Where("created_at <= ?", cutoff).Delete(&model.SubmissionToken{})
	if purge.Error != nil {
		return 0, purge.Error
	}
	return purge.RowsAffected, nil
}

// Ping verifies the underlying database connection.
func (store *FeedbackStore) Ping(ctx context.Context) error {
	if store == nil || store.database == nil {
		return ErrNilDatabase
	}
	sqlDatabase, err := store.database.DB()
	if err != nil {
		return err
	}
	return sqlDatabase.PingContext(ctx)
}
