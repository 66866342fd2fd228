package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/audit"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/limiter"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/service"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// OTPHandler exposes the OTP lifecycle over HTTP.
type OTPHandler struct {
	otpService *service.OTPService
	recorder   audit.Recorder
}

func NewOTPHandler(otpService *service.OTPService, recorder audit.Recorder) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		recorder:   recorder,
	}
}

// Response is the standard envelope. Error responses carry a stable
// code, a localized message, and a suggestion; internal details never
// appear here.
type Response struct {
	Success           bool        `json:"success"`
	Data              interface{} `json:"data,omitempty"`
	ErrorCode         string      `json:"errorCode,omitempty"`
	Message           string      `json:"message,omitempty"`
	Suggestion        string      `json:"suggestion,omitempty"`
	AttemptsRemaining *int        `json:"attemptsRemaining,omitempty"`
	IsExpired         *bool       `json:"isExpired,omitempty"`
	RetryAfter        int         `json:"retryAfter,omitempty"`
	RequestID         string      `json:"requestId,omitempty"`
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId,omitempty"`
}

type verifyRequest struct {
	OTPID         string `json:"otpId"`
	ReferenceCode string `json:"referenceCode"`
	OTPCode       string `json:"otpCode"`
}

type resendRequest struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
}

type sessionPayload struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Post("/verify", h.Verify)
		r.Post("/resend", h.Resend)
	})
}

func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := requestMeta(r)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.otpService.Send(ctx, req.PhoneNumber, req.UserID, meta)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if result.RateLimit != nil {
		writeRateLimitHeaders(w, result.RateLimit)
	}
	h.respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"otpId":         result.OTPID,
			"referenceCode": result.ReferenceCode,
			"session": sessionPayload{
				ID:        result.SessionID,
				Status:    string(model.StatusPending),
				ExpiresAt: result.ExpiresAt,
			},
		},
		RequestID: meta.RequestID,
	})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := requestMeta(r)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperr.Validation("invalid request body"))
		return
	}

	session, rl, err := h.otpService.Verify(ctx, req.OTPID, req.ReferenceCode, req.OTPCode, meta)
	if err != nil {
		h.respondVerifyError(w, r, err, rl, meta)
		return
	}

	if rl != nil {
		writeRateLimitHeaders(w, rl)
	}
	h.respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"session": sessionPayload{
				ID:        session.SessionID,
				Status:    string(session.Status),
				ExpiresAt: session.ExpiresAt,
			},
		},
		RequestID: meta.RequestID,
	})
}

func (h *OTPHandler) Resend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := requestMeta(r)

	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperr.Validation("invalid request body"))
		return
	}
	if req.SessionID == "" {
		h.respondError(w, r, apperr.Validation("sessionId is required"))
		return
	}

	result, err := h.otpService.Resend(ctx, req.SessionID, req.PhoneNumber, meta)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"otpId":         result.OTPID,
			"referenceCode": result.ReferenceCode,
			"resendCount":   result.ResendCount,
			"nextResendAt":  result.NextResendAt,
		},
		RequestID: meta.RequestID,
	})
}

// respondVerifyError maps verify-flow outcomes (wrong code, expiry,
// exhausted attempts) onto 200 with success=false, which is what
// clients branch on; everything else falls through to the standard
// error mapping.
func (h *OTPHandler) respondVerifyError(w http.ResponseWriter, r *http.Request, err error, rl *limiter.Decision, meta service.RequestMeta) {
	appErr := apperr.FromError(err)

	switch appErr.Code {
	case apperr.CodeInvalidCode, apperr.CodeExpired, apperr.CodeMaxAttempts:
		if rl != nil {
			writeRateLimitHeaders(w, rl)
		}
		expired := appErr.Code == apperr.CodeExpired
		resp := Response{
			Success:    false,
			ErrorCode:  string(appErr.Code),
			Message:    appErr.Message,
			Suggestion: appErr.Suggestion,
			IsExpired:  &expired,
			RequestID:  meta.RequestID,
		}
		if appErr.RemainingAttempts != nil {
			resp.AttemptsRemaining = appErr.RemainingAttempts
		}
		h.respondJSON(w, http.StatusOK, resp)
	default:
		h.respondError(w, r, err)
	}
}

func (h *OTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.FromError(err)
	status := appErr.HTTPStatus()

	var denied *limiter.Denied
	if errors.As(err, &denied) {
		writeRateLimitHeaders(w, denied.Decision)
	}
	if appErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}

	if status >= http.StatusInternalServerError {
		util.Error("Request failed",
			util.String("path", r.URL.Path),
			util.String("error_code", string(appErr.Code)),
			util.ErrorField(err))
	}

	h.respondJSON(w, status, Response{
		Success:    false,
		ErrorCode:  string(appErr.Code),
		Message:    appErr.Message,
		Suggestion: appErr.Suggestion,
		RetryAfter: appErr.RetryAfterSeconds,
		RequestID:  middleware.GetReqID(r.Context()),
	})
}

func (h *OTPHandler) respondJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

func writeRateLimitHeaders(w http.ResponseWriter, d *limiter.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		RequestID: middleware.GetReqID(r.Context()),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr from
// the forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// AuditEventsHandler serves recent audit events for operators. Bound to
// the internal route group only.
func (h *OTPHandler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, r, apperr.Validation(fmt.Sprintf("invalid limit %q", raw)))
			return
		}
		limit = parsed
	}

	events, err := h.recorder.RecentEvents(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"events": events,
			"count":  len(events),
		},
		RequestID: middleware.GetReqID(r.Context()),
	})
}
