package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/bucketing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/encryption"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/gateway"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/hashing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/limiter"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/mocks"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/service"
)

type handlerDeps struct {
	store *mocks.SessionStore
	gw    *mocks.GatewayClient
	lim   *mocks.Limiter
	rec   *mocks.Recorder
}

func newTestRouter(t *testing.T) (chi.Router, *handlerDeps) {
	t.Helper()

	cfg := &config.Config{
		Encryption: config.EncryptionConfig{
			MasterKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		},
		OTP: config.OTPConfig{
			TTL:               5 * time.Minute,
			MaxAttempts:       3,
			MaxResends:        3,
			ResendMinInterval: 60 * time.Second,
		},
		Bucketing: config.BucketingConfig{PhoneBuckets: 64, EventBuckets: 16},
	}

	hasher, err := hashing.NewHasher(cfg.MasterKeyBytes())
	require.NoError(t, err)
	crypto, err := encryption.NewManager(cfg, nil)
	require.NoError(t, err)

	deps := &handlerDeps{
		store: mocks.NewSessionStore(),
		gw:    &mocks.GatewayClient{},
		lim:   &mocks.Limiter{},
		rec:   &mocks.Recorder{},
	}

	svc := service.NewOTPService(
		deps.store, mocks.NewVerifiedPhoneStore(), mocks.NewSessionCache(),
		deps.gw, deps.lim, deps.rec,
		crypto, hasher, bucketing.NewBucketingManager(cfg), cfg,
	)

	router := chi.NewRouter()
	NewOTPHandler(svc, deps.rec).RegisterRoutes(router)
	return router, deps
}

func doJSON(t *testing.T, router chi.Router, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestSendEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, "/otp/send", map[string]string{
		"phoneNumber": "0812345678",
		"userId":      "user-1",
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "100", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rr.Header().Get("X-RateLimit-Remaining"))

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "otp-1", data["otpId"])
	assert.Equal(t, "REF001", data["referenceCode"])

	session := data["session"].(map[string]interface{})
	assert.NotEmpty(t, session["id"])
	assert.Equal(t, "pending", session["status"])
}

func TestSendEndpointInvalidPhone(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "12345"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
	assert.NotEmpty(t, resp.Message)
	assert.NotEmpty(t, resp.Suggestion)
}

func TestSendEndpointMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/otp/send", bytes.NewReader([]byte("{broken")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendEndpointRateLimited(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.lim.AllowFunc = func(ctx context.Context, purpose limiter.Purpose, subject string) (*limiter.Decision, error) {
		return &limiter.Decision{
			Allowed:    false,
			Limit:      5,
			Remaining:  0,
			TotalHits:  6,
			ResetAt:    time.Now().Add(30 * time.Second),
			RetryAfter: 30 * time.Second,
		}, nil
	}

	rr, resp := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "0812345678"})

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "RATE_LIMITED", resp.ErrorCode)
	assert.Equal(t, 30, resp.RetryAfter)

	assert.Equal(t, "30", rr.Header().Get("Retry-After"))
	assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
}

func TestVerifyEndpointSuccess(t *testing.T) {
	router, _ := newTestRouter(t)

	_, sent := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "0812345678"})
	data := sent.Data.(map[string]interface{})

	rr, resp := doJSON(t, router, "/otp/verify", map[string]string{
		"otpId":         data["otpId"].(string),
		"referenceCode": data["referenceCode"].(string),
		"otpCode":       "123456",
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "100", rr.Header().Get("X-RateLimit-Limit"))

	session := resp.Data.(map[string]interface{})["session"].(map[string]interface{})
	assert.Equal(t, "verified", session["status"])
}

func TestVerifyEndpointWrongCodeIsA200(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.gw.VerifyOTPFunc = func(ctx context.Context, otpID, code string) (*gateway.VerifyResult, error) {
		return &gateway.VerifyResult{Success: false}, nil
	}

	_, sent := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "0812345678"})
	data := sent.Data.(map[string]interface{})

	rr, resp := doJSON(t, router, "/otp/verify", map[string]string{
		"otpId":         data["otpId"].(string),
		"referenceCode": data["referenceCode"].(string),
		"otpCode":       "000000",
	})

	// Wrong code is a business outcome, not an HTTP failure. Clients
	// branch on the body.
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "INVALID_OTP_CODE", resp.ErrorCode)
	require.NotNil(t, resp.AttemptsRemaining)
	assert.Equal(t, 2, *resp.AttemptsRemaining)
	require.NotNil(t, resp.IsExpired)
	assert.False(t, *resp.IsExpired)
}

func TestVerifyEndpointExhaustedAttempts(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.gw.VerifyOTPFunc = func(ctx context.Context, otpID, code string) (*gateway.VerifyResult, error) {
		return &gateway.VerifyResult{Success: false}, nil
	}

	_, sent := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "0812345678"})
	data := sent.Data.(map[string]interface{})
	verifyBody := map[string]string{
		"otpId":         data["otpId"].(string),
		"referenceCode": data["referenceCode"].(string),
		"otpCode":       "000000",
	}

	doJSON(t, router, "/otp/verify", verifyBody)
	doJSON(t, router, "/otp/verify", verifyBody)
	rr, resp := doJSON(t, router, "/otp/verify", verifyBody)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "MAX_ATTEMPTS_EXCEEDED", resp.ErrorCode)
	require.NotNil(t, resp.AttemptsRemaining)
	assert.Equal(t, 0, *resp.AttemptsRemaining)
}

func TestVerifyEndpointUnknownSession(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, "/otp/verify", map[string]string{
		"otpId":         "no-such-otp",
		"referenceCode": "REF001",
		"otpCode":       "123456",
	})

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", resp.ErrorCode)
}

func TestResendEndpointRequiresSessionID(t *testing.T) {
	router, _ := newTestRouter(t)

	rr, resp := doJSON(t, router, "/otp/resend", map[string]string{"phoneNumber": "0812345678"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
}

func TestResendEndpointTooSoon(t *testing.T) {
	router, _ := newTestRouter(t)

	_, sent := doJSON(t, router, "/otp/send", map[string]string{"phoneNumber": "0812345678"})
	sessionID := sent.Data.(map[string]interface{})["session"].(map[string]interface{})["id"].(string)

	// The first resend carries no cooldown; the second one does.
	first, _ := doJSON(t, router, "/otp/resend", map[string]string{
		"sessionId":   sessionID,
		"phoneNumber": "0812345678",
	})
	require.Equal(t, http.StatusOK, first.Code)

	rr, resp := doJSON(t, router, "/otp/resend", map[string]string{
		"sessionId":   sessionID,
		"phoneNumber": "0812345678",
	})

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RESEND_TOO_SOON", resp.ErrorCode)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}
