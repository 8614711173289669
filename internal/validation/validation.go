// Package validation holds the field rules shared by the submission client and the feedback store.
package validation

import (
	"regexp"
	"sort"
	"strings"
)

const (
	FieldCustomerName      = "customerName"
	FieldEmail             = "email"
	FieldPhone             = "phone"
	FieldServiceQuality    = "serviceQuality"
	FieldCleanliness       = "cleanliness"
	FieldOverallExperience = "overallExperience"

	MessageCustomerNameRequired = "Customer Name is required"
	MessageEmailRequired        = "Email is required"
	MessageEmailInvalid         = "Email is invalid"
	MessagePhoneRequired        = "Phone is required"
	MessagePhoneInvalid         = "Phone number is invalid"
	MessageRateServiceQuality   = "Please rate the service quality"
	MessageRateCleanliness      = "Please rate the cleanliness"
	MessageRateOverall          = "Please rate your overall experience"
)

// emailRune excludes every rune a browser treats as whitespace, not only ASCII spacing.
const emailRune = `[^\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]`

var (
	emailPattern = regexp.MustCompile(`^` + emailRune + `+@` + emailRune + `+\.` + emailRune + `+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

// Draft is an unsaved feedback record with every field held as text.
type Draft struct {
	CustomerName      string `json:"customerName"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Country           string `json:"country,omitempty"`
	ServiceQuality    string `json:"serviceQuality"`
	Cleanliness       string `json:"cleanliness"`
	OverallExperience string `json:"overallExperience"`
	Quality           string `json:"quality,omitempty"`
}

// FieldErrors maps a field name to a human-readable message.
type FieldErrors map[string]string

// Error implements error so callers can return field errors directly.
func (fieldErrors FieldErrors) Error() string {
	fieldNames := make([]string, 0, len(fieldErrors))
	for fieldName := range fieldErrors {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)

	parts := make([]string, 0, len(fieldNames))
	for _, fieldName := range fieldNames {
		parts = append(parts, fieldName+": "+fieldErrors[fieldName])
	}
	return "validation: " + strings.Join(parts, "; ")
}

// Empty reports whether no field failed.
func (fieldErrors FieldErrors) Empty() bool {
	return len(fieldErrors) == 0
}

// Validate checks every field of the draft independently and returns the failures.
// An empty result means the draft can be submitted.
func Validate(draft Draft) FieldErrors {
	fieldErrors := FieldErrors{}

	if strings.TrimSpace(draft.CustomerName) == "" {
		fieldErrors[FieldCustomerName] = MessageCustomerNameRequired
	}

	if strings.TrimSpace(draft.Email) == "" {
		fieldErrors[FieldEmail] = MessageEmailRequired
	} else if !emailPattern.MatchString(draft.Email) {
		fieldErrors[FieldEmail] = MessageEmailInvalid
	}

	if strings.TrimSpace(draft.Phone) == "" {
		fieldErrors[FieldPhone] = MessagePhoneRequired
	} else if !phonePattern.MatchString(draft.Phone) {
		fieldErrors[FieldPhone] = MessagePhoneInvalid
	}

	if draft.ServiceQuality == "" {
		fieldErrors[FieldServiceQuality] = MessageRateServiceQuality
	}
	if draft.Cleanliness == "" {
		fieldErrors[FieldCleanliness] = MessageRateCleanliness
	}
	if draft.OverallExperience == "" {
		fieldErrors[FieldOverallExperience] = MessageRateOverall
	}

	return fieldErrors
}
