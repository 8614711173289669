package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/storage"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

const (
	// IdempotencyKeyHeader carries the client submission token.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader is set on create responses that returned an existing record.
	IdempotentReplayHeader = "Idempotent-Replayed"

	jsonKeyError    = "error"
	jsonKeyFields   = "fields"
	jsonKeyMessage  = "msg"
	jsonKeyFeedback = "feedback"
	jsonKeyStatus   = "status"
	jsonKeyResults  = "results"

	messageFeedbackCreated = "Successful Feedback created"

	errorValueInvalidJSON      = "invalid_json"
	errorValueValidationFailed = "validation_failed"
	errorValueMissingID        = "missing_id"
	errorValueMissingIDs       = "missing_ids"
	errorValueTooManyIDs       = "too_many_ids"

	maxBatchDeleteIDs = 500
)

// FeedbackStore is the persistence surface the handlers depend on.
type FeedbackStore interface {
	Create(ctx context.Context, feedback model.Feedback, submissionToken string) (storage.CreateResult, error)
	List(ctx context.Context) ([]model.Feedback, error)
	Delete(ctx context.Context, feedbackID string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// FeedbackHandlers serves the feedback record HTTP API.
type FeedbackHandlers struct {
	store   FeedbackStore
	logger  *zap.Logger
	events  *FeedbackEventBroadcaster
	metrics *Metrics
}

// NewFeedbackHandlers builds FeedbackHandlers. events and metrics may be nil.
func NewFeedbackHandlers(store FeedbackStore, logger *zap.Logger, events *FeedbackEventBroadcaster, metrics *Metrics) *FeedbackHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackHandlers{
		store:   store,
		logger:  logger,
		events:  events,
		metrics: metrics,
	}
}

type createFeedbackRequest struct {
	validation.Draft
	SubmissionToken string `json:"submissionToken"`
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BatchDeleteResult reports the outcome for one id of a batch delete.
type BatchDeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// CreateFeedback validates and stores a feedback draft.
func (handlers *FeedbackHandlers) CreateFeedback(context *gin.Context) {
	var payload createFeedbackRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		handlers.metrics.observeRejected(rejectReasonInvalidJSON)
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	if fieldErrors := validation.Validate(payload.Draft); !fieldErrors.Empty() {
		handlers.metrics.observeRejected(rejectReasonValidation)
		context.JSON(http.StatusBadRequest, gin.H{
			jsonKeyError:  errorValueValidationFailed,
			jsonKeyFields: fieldErrors,
		})
		return
	}

	feedback, modelErr := model.NewFeedback(payload.Draft)
	if modelErr != nil {
		handlers.metrics.observeRejected(rejectReasonValidation)
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: modelErr.Error()})
		return
	}

	submissionToken := strings.TrimSpace(context.GetHeader(IdempotencyKeyHeader))
	if submissionToken == "" {
		submissionToken = strings.TrimSpace(payload.SubmissionToken)
	}

	result, createErr := handlers.store.Create(context.Request.Context(), feedback, submissionToken)
	if createErr != nil {
		handlers.logger.Warn("save_feedback", zap.Error(createErr))
		handlers.metrics.observeRejected(rejectReasonPersistence)
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: createErr.Error()})
		return
	}

	if result.Duplicate {
		handlers.metrics.observeDuplicate()
		context.Header(IdempotentReplayHeader, "true")
	} else {
		handlers.metrics.observeCreated()
		handlers.broadcast(context.Request.Context(), FeedbackEventCreated, result.Feedback.ID)
	}

	context.JSON(http.StatusOK, gin.H{
		jsonKeyMessage:  messageFeedbackCreated,
		jsonKeyFeedback: result.Feedback,
	})
}

// ListFeedback returns every stored record in insertion order.
func (handlers *FeedbackHandlers) ListFeedback(context *gin.Context) {
	feedbacks, listErr := handlers.store.List(context.Request.Context())
	if listErr != nil {
		handlers.logger.Warn("list_feedback", zap.Error(listErr))
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: listErr.Error()})
		return
	}
	context.JSON(http.StatusOK, feedbacks)
}

// DeleteFeedback removes a record by id. Deleting an unknown id succeeds.
func (handlers *FeedbackHandlers) DeleteFeedback(context *gin.Context) {
	feedbackID := strings.TrimSpace(context.Param("id"))
	if feedbackID == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingID})
		return
	}

	removed, deleteErr := handlers.store.Delete(context.Request.Context(), feedbackID)
	if deleteErr != nil {
		handlers.logger.Warn("delete_feedback", zap.String("feedback_id", feedbackID), zap.Error(deleteErr))
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: deleteErr.Error()})
		return
	}
	if removed {
		handlers.metrics.observeDeleted()
		handlers.broadcast(context.Request.Context(), FeedbackEventDeleted, feedbackID)
	}

	context.Status(http.StatusNoContent)
	context.Writer.WriteHeaderNow()
}

// BatchDeleteFeedback deletes each requested id independently and reports per-id outcomes
// in request order.
func (handlers *FeedbackHandlers) BatchDeleteFeedback(context *gin.Context) {
	var payload batchDeleteRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	if len(payload.IDs) == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingIDs})
		return
	}
	if len(payload.IDs) > maxBatchDeleteIDs {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueTooManyIDs})
		return
	}

	requestContext := context.Request.Context()
	results := make([]BatchDeleteResult, 0, len(payload.IDs))
	for _, rawID := range payload.IDs {
		feedbackID := strings.TrimSpace(rawID)
		result := BatchDeleteResult{ID: feedbackID}
		removed, deleteErr := handlers.store.Delete(requestContext, feedbackID)
		switch {
		case errors.Is(deleteErr, storage.ErrMissingFeedbackID):
			result.Error = errorValueMissingID
		case deleteErr != nil:
			handlers.logger.Warn("batch_delete_feedback", zap.String("feedback_id", feedbackID), zap.Error(deleteErr))
			result.Error = deleteErr.Error()
		default:
			result.Deleted = true
			if removed {
				handlers.metrics.observeDeleted()
				handlers.broadcast(requestContext, FeedbackEventDeleted, feedbackID)
			}
		}
		results = append(results, result)
	}

	context.JSON(http.StatusOK, gin.H{jsonKeyResults: results})
}

// Health reports whether the store is reachable.
func (handlers *FeedbackHandlers) Health(context *gin.Context) {
	if pingErr := handlers.store.Ping(context.Request.Context()); pingErr != nil {
		handlers.logger.Warn("health_ping", zap.Error(pingErr))
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyStatus: "unavailable"})
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyStatus: "ok"})
}

func (handlers *FeedbackHandlers) broadcast(ctx context.Context, eventType string, feedbackID string) {
	if handlers.events == nil {
		return
	}
	totalCount, countErr := handlers.store.Count(ctx)
	if countErr != nil {
		handlers.logger.Debug("count_feedback_event_failed", zap.Error(countErr))
		totalCount = 0
	}
	handlers.events.Broadcast(NewFeedbackEvent(eventType, feedbackID, totalCount))
}
