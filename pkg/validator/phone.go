package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits after the country code prefix")

	// ErrInvalidLength indicates the number is outside the E.164 digit range
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")

	// ErrMissingCountryCode indicates a national number with no way to qualify it
	ErrMissingCountryCode = errors.New("phone number must start with + or 00 and a country code")
)

const (
	minDigits = 8
	maxDigits = 15
)

// digitsRegex matches digits only
var digitsRegex = regexp.MustCompile(`^\d+$`)

// separators are stripped before validation
var separators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "/", "")

// PhoneValidator normalises passenger phone numbers to E.164
type PhoneValidator struct {
	defaultCountryCode string
}

// NewPhoneValidator creates a phone validator. defaultCountryCode (digits,
// no +) qualifies national numbers with a leading 0; empty rejects them.
func NewPhoneValidator(defaultCountryCode string) *PhoneValidator {
	return &PhoneValidator{defaultCountryCode: strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")}
}

// Validate validates a phone number and returns it in E.164 form.
// Accepts +351 912 345 678, 00351-912-345-678 and, with a default
// country code, 0912 345 678.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	digits := v.Sanitize(phone)
	switch {
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && v.defaultCountryCode != "":
		digits = v.defaultCountryCode + digits[1:]
	default:
		return "", ErrMissingCountryCode
	}

	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if digits[0] == '0' {
		return "", ErrMissingCountryCode
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalidLength
	}

	return "+" + digits, nil
}

// Sanitize removes spaces, dashes, dots, slashes and parentheses
func (v *PhoneValidator) Sanitize(phone string) string {
	return separators.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
