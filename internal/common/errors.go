package common

import (
	"errors"
	"net/http"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/countries"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/resilience"
	"github.com/noah-isme/checkout-settlement/internal/settlement"
	"github.com/noah-isme/checkout-settlement/internal/storefront"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// errorCodes is checked in order; the first sentinel matched by errors.Is wins.
var errorCodes = []struct {
	target error
	code   string
	status int
}{
	{coupon.ErrAlreadyApplied, "COUPON_ALREADY_APPLIED", http.StatusConflict},
	{coupon.ErrInvalidCoupon, "INVALID_COUPON", http.StatusUnprocessableEntity},
	{submission.ErrInsufficientBalance, "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity},
	{submission.ErrSubmissionPrecondition, "SUBMISSION_PRECONDITION_FAILED", http.StatusConflict},
	{policy.ErrUnknownMethod, "UNKNOWN_PAYMENT_METHOD", http.StatusBadRequest},
	{policy.ErrCurrencyNotOffered, "CURRENCY_NOT_OFFERED", http.StatusBadRequest},
	{policy.ErrPolicyResolutionFailed, "POLICY_RESOLUTION_FAILED", http.StatusBadGateway},
	{settlement.ErrAmountsUnavailable, "AMOUNTS_UNAVAILABLE", http.StatusConflict},
	{conversion.ErrConversionFailed, "CONVERSION_FAILED", http.StatusBadGateway},
	{countries.ErrCountryNotFound, "COUNTRY_NOT_FOUND", http.StatusNotFound},
	{money.ErrCurrencyMismatch, "CURRENCY_MISMATCH", http.StatusBadRequest},
	{money.ErrNegativeAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{resilience.ErrOpenCircuit, "UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable},
	{storefront.ErrUpstream, "UPSTREAM", http.StatusBadGateway},
}

// FromError maps domain errors onto the API taxonomy. AppErrors pass through,
// unknown errors become 500 INTERNAL.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.target) {
			return NewAppError(m.code, err.Error(), m.status, err)
		}
	}
	return NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
}
