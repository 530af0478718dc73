package payment

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reference length rules carried over from the bank's input contract.
const (
	billRefMinLen         = 6
	billRefMaxLen         = 15
	counterpartyRefMinLen = 5
)

// ValidationError rejects bad input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseAmount converts a decimal amount string ("150.00") into minor units.
// The amount must be a positive number with at most two fraction digits.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "amount", Reason: "required"}
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return 0, &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	if hasFrac && (fracPart == "" || len(fracPart) > 2 || !allDigits(fracPart)) {
		return 0, &ValidationError{Field: "amount", Reason: "at most two decimal places"}
	}

	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	// major*100+minor must stay within int64; anything bigger cannot be
	// represented in minor units and is rejected rather than wrapped.
	if major > math.MaxInt64/100-1 {
		return 0, &ValidationError{Field: "amount", Reason: "amount too large"}
	}

	var minor int64
	if hasFrac {
		frac := fracPart
		for len(frac) < 2 {
			frac += "0"
		}
		minor, _ = strconv.ParseInt(frac, 10, 64)
	}

	total := major*100 + minor
	if total <= 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	return total, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// validate checks the request shape before any network call.
func validate(req Request) error {
	if _, err := ParseAmount(req.Amount); err != nil {
		return err
	}
	if len(req.CounterpartyRef) < counterpartyRefMinLen {
		return &ValidationError{
			Field:  "counterparty_ref",
			Reason: fmt.Sprintf("minimum %d characters", counterpartyRefMinLen),
		}
	}
	if req.BillReference != "" {
		if n := len(req.BillReference); n < billRefMinLen || n > billRefMaxLen {
			return &ValidationError{
				Field:  "bill_reference",
				Reason: fmt.Sprintf("must be %d to %d characters", billRefMinLen, billRefMaxLen),
			}
		}
	}
	return nil
}
