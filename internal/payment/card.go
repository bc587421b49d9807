package payment

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"salonbook/internal/domain"
)

// CardDetails is the raw card input. It is never persisted; only the last four
// digits of the number survive a successful payment.
type CardDetails struct {
	Number string `json:"cardNumber"`
	Holder string `json:"cardholderName"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// CardError is a rejected card field. It matches domain.ErrValidation.
type CardError struct {
	Code    string
	Field   string
	Message string
}

func (e *CardError) Error() string {
	return e.Message
}

func (e *CardError) Is(target error) bool {
	return target == domain.ErrValidation
}

var (
	ErrInvalidCardNumber     = &CardError{Code: "invalid_card_number", Field: "cardNumber", Message: "card number must be 16 digits"}
	ErrMissingCardholderName = &CardError{Code: "missing_cardholder_name", Field: "cardholderName", Message: "cardholder name is required"}
	ErrInvalidExpiryFormat   = &CardError{Code: "invalid_expiry_format", Field: "expiry", Message: "expiry must be MM/YY"}
	ErrCardExpired           = &CardError{Code: "card_expired", Field: "expiry", Message: "card has expired"}
	ErrInvalidCvv            = &CardError{Code: "invalid_cvv", Field: "cvv", Message: "cvv must be 3 or 4 digits"}
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{16}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/(\d{2})$`)
	cvvRe        = regexp.MustCompile(`^\d{3,4}$`)
)

// StripCardNumber removes spaces and dashes.
func StripCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// ValidateCard checks the fields in order and returns the first failure.
func ValidateCard(d CardDetails, now time.Time) error {
	if !cardNumberRe.MatchString(StripCardNumber(d.Number)) {
		return ErrInvalidCardNumber
	}
	if strings.TrimSpace(d.Holder) == "" {
		return ErrMissingCardholderName
	}

	m := expiryRe.FindStringSubmatch(strings.TrimSpace(d.Expiry))
	if m == nil {
		return ErrInvalidExpiryFormat
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	currentYear := now.Year() % 100
	if year < currentYear || (year == currentYear && month < int(now.Month())) {
		return ErrCardExpired
	}

	if !cvvRe.MatchString(strings.TrimSpace(d.CVV)) {
		return ErrInvalidCvv
	}
	return nil
}

// LastFour returns the last four digits of a valid card number.
func LastFour(number string) string {
	n := StripCardNumber(number)
	if len(n) < 4 {
		return ""
	}
	return n[len(n)-4:]
}
