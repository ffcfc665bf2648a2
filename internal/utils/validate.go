package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidationResult is the outcome of a pure validation function. Errors is
// keyed by field name; transport layers decide how to render it.
type ValidationResult struct {
	IsValid bool
	Errors  map[string]string
}

func newResult() ValidationResult {
	return ValidationResult{IsValid: true, Errors: map[string]string{}}
}

func (r *ValidationResult) fail(field, msg string) {
	r.IsValid = false
	if _, ok := r.Errors[field]; !ok {
		r.Errors[field] = msg
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail checks basic shape only; deliverability is proven by the
// verification email, not by parsing.
func ValidateEmail(email string) ValidationResult {
	res := newResult()
	email = strings.TrimSpace(email)
	if email == "" {
		res.fail("email", "email is required")
	} else if len(email) > 254 || !emailPattern.MatchString(email) {
		res.fail("email", "email is not valid")
	}
	return res
}

// ValidatePassword enforces the minimum credential policy: at least 8
// characters with an upper-case letter, a lower-case letter and a digit.
func ValidatePassword(password string) ValidationResult {
	res := newResult()
	if len(password) < 8 {
		res.fail("password", "password must be at least 8 characters")
		return res
	}
	if len(password) > 128 {
		res.fail("password", "password must be at most 128 characters")
		return res
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		res.fail("password", "password must contain upper-case, lower-case and digit characters")
	}
	return res
}

// ValidateCredentials combines email and password checks for registration
// and onboarding input.
func ValidateCredentials(email, password string) ValidationResult {
	res := ValidateEmail(email)
	pw := ValidatePassword(password)
	if !pw.IsValid {
		res.IsValid = false
		for k, v := range pw.Errors {
			res.Errors[k] = v
		}
	}
	return res
}

// ValidateName checks a profile name field.
func ValidateName(field, value string) ValidationResult {
	res := newResult()
	value = strings.TrimSpace(value)
	if value == "" {
		res.fail(field, field+" is required")
	} else if len(value) > 100 {
		res.fail(field, field+" is too long")
	}
	return res
}

// Merge folds other results into res.
func Merge(res ValidationResult, others ...ValidationResult) ValidationResult {
	for _, o := range others {
		if !o.IsValid {
			res.IsValid = false
			for k, v := range o.Errors {
				if _, ok := res.Errors[k]; !ok {
					res.Errors[k] = v
				}
			}
		}
	}
	return res
}
