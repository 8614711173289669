package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

// Rating is one of the enumerated answers a guest gives for a rated question.
type Rating string

const (
	RatingExcellent Rating = "Excellent"
	RatingGood      Rating = "Good"
	RatingFair      Rating = "Fair"
	RatingBad       Rating = "Bad"

	// DefaultCountryCode is the country preselected by the feedback form.
	DefaultCountryCode = "IN"

	feedbackCustomerNameMaxLength = 200
	feedbackEmailMaxLength        = 320
	feedbackCountryMaxLength      = 8
	feedbackQualityMaxLength      = 4000
)

var (
	ErrInvalidFeedbackRating  = errors.New("invalid_feedback_rating")
	ErrInvalidFeedbackContact = errors.New("invalid_feedback_contact")
)

// Ratings lists the accepted ratings from best to worst.
var Ratings = []Rating{RatingExcellent, RatingGood, RatingFair, RatingBad}

// ParseRating resolves the raw value into a Rating.
func ParseRating(rawValue string) (Rating, error) {
	candidate := Rating(strings.TrimSpace(rawValue))
	for _, rating := range Ratings {
		if candidate == rating {
			return rating, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFeedbackRating, rawValue)
}

// Feedback is a persisted guest feedback record. Seq is assigned by the database on insert
// and orders records by insertion; ID is the public identifier.
type Feedback struct {
	Seq               uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID                string    `gorm:"uniqueIndex;not null;size:36" json:"id"`
	CustomerName      string    `gorm:"not null;size:200" json:"customerName"`
	Email             string    `gorm:"not null;size:320" json:"email"`
	Phone             string    `gorm:"not null;size:10" json:"phone"`
	Country           string    `gorm:"size:8" json:"country,omitempty"`
	ServiceQuality    Rating    `gorm:"size:16" json:"serviceQuality"`
	Cleanliness       Rating    `gorm:"size:16" json:"cleanliness"`
	OverallExperience Rating    `gorm:"size:16" json:"overallExperience"`
	Quality           string    `gorm:"size:4000" json:"quality,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// SubmissionToken remembers which feedback record an idempotency key produced.
type SubmissionToken struct {
	Token      string    `gorm:"primaryKey;size:128"`
	FeedbackID string    `gorm:"not null;size:36"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

// NewFeedback validates the draft and constructs a Feedback with a fresh id.
// CreatedAt is left for the store.
func NewFeedback(draft validation.Draft) (Feedback, error) {
	if fieldErrors := validation.Validate(draft); !fieldErrors.Empty() {
		return Feedback{}, fieldErrors
	}

	customerName := strings.TrimSpace(draft.CustomerName)
	if len(customerName) > feedbackCustomerNameMaxLength {
		return Feedback{}, fmt.Errorf("%w: customer name too long", ErrInvalidFeedbackContact)
	}

	email := strings.TrimSpace(draft.Email)
	if len(email) > feedbackEmailMaxLength {
		return Feedback{}, fmt.Errorf("%w: email too long", ErrInvalidFeedbackContact)
	}

	country := strings.ToUpper(strings.TrimSpace(draft.Country))
	if len(country) > feedbackCountryMaxLength {
		return Feedback{}, fmt.Errorf("%w: country too long", ErrInvalidFeedbackContact)
	}

	quality := strings.TrimSpace(draft.Quality)
	if len(quality) > feedbackQualityMaxLength {
		return Feedback{}, fmt.Errorf("%w: quality too long", ErrInvalidFeedbackContact)
	}

	serviceQuality, err := ParseRating(draft.ServiceQuality)
	if err != nil {
		return Feedback{}, fmt.Errorf("%s: %w", validation.FieldServiceQuality, err)
	}
	cleanliness, err := ParseRating(draft.Cleanliness)
	if err != nil {
		return Feedback{}, fmt.Errorf("%s: %w", validation.FieldCleanliness, err)
	}
	overallExperience, err := ParseRating(draft.OverallExperience)
	if err != nil {
		return Feedback{}, fmt.Errorf("%s: %w", validation.FieldOverallExperience, err)
	}

	return Feedback{
		ID:                uuid.NewString(),
		CustomerName:      customerName,
		Email:             email,
		Phone:             draft.Phone,
		Country:           country,
		ServiceQuality:    serviceQuality,
		Cleanliness:       cleanliness,
		OverallExperience: overallExperience,
		Quality:           quality,
	}, nil
}
