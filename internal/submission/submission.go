// Package submission drives a feedback form from draft to stored record.
package submission

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/client"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

// Outcome classifies the result of a submit attempt.
type Outcome int

const (
	// OutcomeInvalid means validation failed and nothing was sent.
	OutcomeInvalid Outcome = iota
	// OutcomeSucceeded means the store acknowledged the record.
	OutcomeSucceeded
	// OutcomeFailed means the request failed or the store rejected it.
	OutcomeFailed
)

const (
	NoticeSubmitted       = "Thank you for your feedback!"
	NoticeSubmitFailed    = "Failed to submit feedback. Please try again later."
	NoticeCorrectTheForm  = "Please correct the highlighted fields."
	outcomeNameInvalid    = "invalid"
	outcomeNameSucceeded  = "succeeded"
	outcomeNameFailed     = "failed"
	outcomeNameUnexpected = "unknown"
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeInvalid:
		return outcomeNameInvalid
	case OutcomeSucceeded:
		return outcomeNameSucceeded
	case OutcomeFailed:
		return outcomeNameFailed
	default:
		return outcomeNameUnexpected
	}
}

// ErrSubmissionInFlight rejects a submit while an earlier one has not finished.
var ErrSubmissionInFlight = errors.New("submission: already in flight")

// Form is the complete state of a feedback form between user interactions.
type Form struct {
	Draft           validation.Draft
	Errors          validation.FieldErrors
	Submitting      bool
	SubmissionToken string
}

// NewForm returns an empty form with the default country and a fresh submission token.
func NewForm() Form {
	return Form{
		Draft:           validation.Draft{Country: model.DefaultCountryCode},
		Errors:          validation.FieldErrors{},
		SubmissionToken: uuid.NewString(),
	}
}

// Result reports what happened during Submit.
type Result struct {
	Outcome  Outcome
	Notice   string
	Feedback model.Feedback
	Err      error
}

// Creator is the store operation the submitter needs.
type Creator interface {
	Create(ctx context.Context, draft validation.Draft, submissionToken string) (client.CreateResponse, error)
}

// Submitter validates and sends feedback forms.
type Submitter struct {
	creator      Creator
	logger       *zap.Logger
	onSubmitting func(Form)
}

// NewSubmitter builds a Submitter.
func NewSubmitter(creator Creator, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{creator: creator, logger: logger}
}

// OnSubmitting registers a hook that receives the form as it enters and leaves the in-flight
// state. Submitting a form captured while in flight is rejected with ErrSubmissionInFlight.
func (submitter *Submitter) OnSubmitting(hook func(Form)) *Submitter {
	submitter.onSubmitting = hook
	return submitter
}

// Submit validates the form and, when valid, sends it once. On success the returned form is
// reset; on failure the draft and token are kept so a retry deduplicates server-side.
func (submitter *Submitter) Submit(ctx context.Context, form Form) (Form, Result) {
	if form.Submitting {
		return form, Result{Outcome: OutcomeFailed, Notice: NoticeSubmitFailed, Err: ErrSubmissionInFlight}
	}

	fieldErrors := validation.Validate(form.Draft)
	if !fieldErrors.Empty() {
		form.Errors = fieldErrors
		return form, Result{Outcome: OutcomeInvalid, Notice: NoticeCorrectTheForm, Err: fieldErrors}
	}
	form.Errors = validation.FieldErrors{}
	if form.SubmissionToken == "" {
		form.SubmissionToken = uuid.NewString()
	}

	form.Submitting = true
	submitter.notifySubmitting(form)
	response, createErr := submitter.creator.Create(ctx, form.Draft, form.SubmissionToken)
	form.Submitting = false
	submitter.notifySubmitting(form)

	if createErr != nil {
		submitter.logger.Warn("submit_feedback", zap.Error(createErr))
		return form, Result{Outcome: OutcomeFailed, Notice: NoticeSubmitFailed, Err: createErr}
	}

	submitter.logger.Info("submitted_feedback", zap.String("feedback_id", response.Feedback.ID))
	return NewForm(), Result{Outcome: OutcomeSucceeded, Notice: NoticeSubmitted, Feedback: response.Feedback}
}

func (submitter *Submitter) notifySubmitting(form Form) {
	if submitter.onSubmitting != nil {
		submitter.onSubmitting(form)
	}
}
