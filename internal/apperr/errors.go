// Package apperr is the single place where failure reasons map to
// stable error codes, user-facing messages, suggestions, and HTTP
// statuses. No other package formats error text for responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeNotFound       Code = "NOT_FOUND"
	CodeExpired        Code = "EXPIRED"
	CodeMaxAttempts    Code = "MAX_ATTEMPTS_EXCEEDED"
	CodeInvalidCode    Code = "INVALID_OTP_CODE"
	CodeResendLimit    Code = "RESEND_LIMIT_EXCEEDED"
	CodeResendTooSoon  Code = "RESEND_TOO_SOON"
	CodeGateway        Code = "GATEWAY_ERROR"
	CodePersistence    Code = "PERSISTENCE_ERROR"
	CodeConfiguration  Code = "CONFIGURATION_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Error carries everything a response needs: a stable code, a localized
// (Thai) message, an English message, an actionable suggestion, and
// machine-readable retry metadata. Internal causes stay in the wrapped
// error and never leak into response bodies.
type Error struct {
	Code              Code
	Message           string
	MessageEN         string
	Suggestion        string
	RetryAfterSeconds int
	RemainingAttempts *int
	cause             error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code) + ": " + e.MessageEN
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes errors.Is(err, apperr.Validation("")) match by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps each code to exactly one HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited, CodeResendLimit, CodeResendTooSoon:
		return http.StatusTooManyRequests
	case CodeExpired, CodeMaxAttempts, CodeInvalidCode:
		// Verify-flow outcomes are reported in a 200 body with
		// success=false; the handler owns that special case.
		return http.StatusBadRequest
	case CodeGateway, CodePersistence, CodeInternal:
		return http.StatusInternalServerError
	case CodeConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// FromError extracts an *Error from any error chain, defaulting to an
// internal error so raw causes never reach a response body.
func FromError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{
		Code:       CodeInternal,
		Message:    "เกิดข้อผิดพลาดภายในระบบ",
		MessageEN:  "An internal error occurred",
		Suggestion: "กรุณาลองใหม่อีกครั้งภายหลัง",
		cause:      err,
	}
}

func Validation(detail string) *Error {
	return &Error{
		Code:       CodeValidation,
		Message:    "หมายเลขโทรศัพท์หรือข้อมูลที่ส่งมาไม่ถูกต้อง",
		MessageEN:  "The phone number or request data is invalid",
		Suggestion: "กรุณาตรวจสอบหมายเลขโทรศัพท์ (เช่น 0812345678) แล้วลองใหม่",
		cause:      errors.New(detail),
	}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Code:              CodeRateLimited,
		Message:           "มีการร้องขอมากเกินไป กรุณารอสักครู่",
		MessageEN:         "Too many requests",
		Suggestion:        "กรุณารอแล้วลองใหม่อีกครั้ง",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func NotFound() *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    "ไม่พบข้อมูลการยืนยัน OTP",
		MessageEN:  "OTP session not found",
		Suggestion: "กรุณาขอรหัส OTP ใหม่",
	}
}

func Expired() *Error {
	return &Error{
		Code:       CodeExpired,
		Message:    "รหัส OTP หมดอายุแล้ว",
		MessageEN:  "The OTP code has expired",
		Suggestion: "กรุณาขอรหัส OTP ใหม่",
	}
}

func MaxAttempts() *Error {
	zero := 0
	return &Error{
		Code:              CodeMaxAttempts,
		Message:           "กรอกรหัสผิดเกินจำนวนครั้งที่กำหนด",
		MessageEN:         "Maximum verification attempts exceeded",
		Suggestion:        "กรุณาขอรหัส OTP ใหม่",
		RemainingAttempts: &zero,
	}
}

func InvalidCode(remaining int) *Error {
	r := remaining
	return &Error{
		Code:              CodeInvalidCode,
		Message:           fmt.Sprintf("รหัส OTP ไม่ถูกต้อง เหลือโอกาสอีก %d ครั้ง", remaining),
		MessageEN:         fmt.Sprintf("Invalid OTP code, %d attempts remaining", remaining),
		Suggestion:        "กรุณาตรวจสอบรหัสจาก SMS แล้วลองใหม่",
		RemainingAttempts: &r,
	}
}

func ResendLimit() *Error {
	return &Error{
		Code:       CodeResendLimit,
		Message:    "ขอรหัส OTP ซ้ำเกินจำนวนครั้งที่กำหนด",
		MessageEN:  "Resend limit exceeded",
		Suggestion: "กรุณาเริ่มการยืนยันใหม่ภายหลัง",
	}
}

func ResendTooSoon(retryAfterSeconds int) *Error {
	return &Error{
		Code:              CodeResendTooSoon,
		Message:           fmt.Sprintf("กรุณารออีก %d วินาทีก่อนขอรหัสใหม่", retryAfterSeconds),
		MessageEN:         fmt.Sprintf("Please wait %d seconds before requesting a new code", retryAfterSeconds),
		Suggestion:        "กรุณารอครบกำหนดแล้วกดขอรหัสอีกครั้ง",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func Gateway(cause error) *Error {
	return &Error{
		Code:       CodeGateway,
		Message:    "ไม่สามารถส่งรหัส OTP ได้ในขณะนี้",
		MessageEN:  "The SMS provider is unavailable",
		Suggestion: "กรุณาลองใหม่อีกครั้งภายหลัง",
		cause:      cause,
	}
}

func Persistence(cause error) *Error {
	return &Error{
		Code:       CodePersistence,
		Message:    "เกิดข้อผิดพลาดในการบันทึกข้อมูล",
		MessageEN:  "A storage error occurred",
		Suggestion: "กรุณาลองใหม่อีกครั้งภายหลัง",
		cause:      cause,
	}
}

func Configuration(cause error) *Error {
	return &Error{
		Code:      CodeConfiguration,
		Message:   "การตั้งค่าระบบไม่ถูกต้อง",
		MessageEN: "Service configuration is invalid",
		cause:     cause,
	}
}
