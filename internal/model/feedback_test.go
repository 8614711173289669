package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

func testDraft() validation.Draft {
	return validation.Draft{
		CustomerName:      "  Priya Nair ",
		Email:             "priya@example.com",
		Phone:             "9876543210",
		Country:           "in",
		ServiceQuality:    "Excellent",
		Cleanliness:       "Good",
		OverallExperience: "Fair",
	}
}

func TestNewFeedbackNormalizesFields(t *testing.T) {
	feedback, err := NewFeedback(testDraft())
	require.NoError(t, err)

	require.NotEmpty(t, feedback.ID)
	require.Equal(t, "Priya Nair", feedback.CustomerName)
	require.Equal(t, "priya@example.com", feedback.Email)
	require.Equal(t, "9876543210", feedback.Phone)
	require.Equal(t, DefaultCountryCode, feedback.Country)
	require.Equal(t, RatingExcellent, feedback.ServiceQuality)
	require.Equal(t, RatingGood, feedback.Cleanliness)
	require.Equal(t, RatingFair, feedback.OverallExperience)
	require.True(t, feedback.CreatedAt.IsZero())
}

func TestNewFeedbackAssignsDistinctIDs(t *testing.T) {
	first, err := NewFeedback(testDraft())
	require.NoError(t, err)
	second, err := NewFeedback(testDraft())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestNewFeedbackReturnsFieldErrors(t *testing.T) {
	draft := testDraft()
	draft.Phone = "555"

	_, err := NewFeedback(draft)
	var fieldErrors validation.FieldErrors
	require.ErrorAs(t, err, &fieldErrors)
	require.Equal(t, validation.MessagePhoneInvalid, fieldErrors[validation.FieldPhone])
}

func TestNewFeedbackRejectsUnknownRating(t *testing.T) {
	draft := testDraft()
	draft.Cleanliness = "Spotless"

	_, err := NewFeedback(draft)
	require.ErrorIs(t, err, ErrInvalidFeedbackRating)
	require.Contains(t, err.Error(), validation.FieldCleanliness)
}

func TestNewFeedbackRejectsOversizedQuality(t *testing.T) {
	draft := testDraft()
	draft.Quality = strings.Repeat("q", feedbackQualityMaxLength+1)

	_, err := NewFeedback(draft)
	require.ErrorIs(t, err, ErrInvalidFeedbackContact)
}

func TestParseRating(t *testing.T) {
	for _, rating := range Ratings {
		parsed, err := ParseRating(" " + string(rating) + " ")
		require.NoError(t, err)
		require.Equal(t, rating, parsed)
	}

	_, err := ParseRating("excellent")
	require.ErrorIs(t, err, ErrInvalidFeedbackRating)
}
