// Package gateway wraps the external SMS provider. The provider owns
// code generation, delivery, and code matching; this service only holds
// the opaque otp_id/reference_code pair it hands back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// OTPRequest is the gateway's answer to a send: a fresh opaque pair.
// The reference code is shown to the user so they can match the SMS.
type OTPRequest struct {
	OTPID         string
	ReferenceCode string
}

// VerifyResult is the gateway's verdict on a submitted code.
type VerifyResult struct {
	Success bool
	// IsExpired reports the gateway considered the code expired.
	IsExpired bool
	// IsErrorCount reports the gateway's own attempt ceiling tripped.
	IsErrorCount bool
}

// Client is the provider contract the OTP service depends on.
type Client interface {
	RequestOTP(ctx context.Context, normalizedPhone string) (*OTPRequest, error)
	VerifyOTP(ctx context.Context, otpID, code string) (*VerifyResult, error)
}

// HTTPClient talks JSON to the provider's REST endpoints.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

func NewHTTPClient(cfg *config.Config) *HTTPClient {
	return &HTTPClient{
		baseURL:   cfg.Gateway.BaseURL,
		apiKey:    cfg.Gateway.APIKey,
		apiSecret: cfg.Gateway.APISecret,
		httpClient: &http.Client{
			Timeout: cfg.Gateway.Timeout,
		},
	}
}

var _ Client = (*HTTPClient)(nil)

type requestOTPPayload struct {
	PhoneNumber string `json:"phoneNumber"`
}

type requestOTPResponse struct {
	OTPID         string `json:"otpId"`
	ReferenceCode string `json:"referenceCode"`
}

type verifyOTPPayload struct {
	OTPID   string `json:"otpId"`
	OTPCode string `json:"otpCode"`
}

type verifyOTPResponse struct {
	Status       string `json:"status"`
	IsExprCode   bool   `json:"isExprCode"`
	IsErrorCount bool   `json:"isErrorCount"`
}

func (c *HTTPClient) RequestOTP(ctx context.Context, normalizedPhone string) (*OTPRequest, error) {
	var resp requestOTPResponse
	if err := c.post(ctx, "/otp/requestOTP", requestOTPPayload{PhoneNumber: normalizedPhone}, &resp); err != nil {
		return nil, err
	}

	if resp.OTPID == "" || resp.ReferenceCode == "" {
		return nil, apperr.Gateway(fmt.Errorf("provider returned empty otpId or referenceCode"))
	}

	return &OTPRequest{
		OTPID:         resp.OTPID,
		ReferenceCode: resp.ReferenceCode,
	}, nil
}

func (c *HTTPClient) VerifyOTP(ctx context.Context, otpID, code string) (*VerifyResult, error) {
	var resp verifyOTPResponse
	if err := c.post(ctx, "/otp/verifyOTP", verifyOTPPayload{OTPID: otpID, OTPCode: code}, &resp); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Success:      resp.Status == "success",
		IsExpired:    resp.IsExprCode,
		IsErrorCount: resp.IsErrorCount,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Gateway(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Gateway(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_key", c.apiKey)
	if c.apiSecret != "" {
		req.Header.Set("secret_key", c.apiSecret)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Error("SMS provider call failed",
			util.String("path", path),
			util.Duration("elapsed", time.Since(started)),
			util.ErrorField(err))
		return apperr.Gateway(fmt.Errorf("provider call %s: %w", path, err))
	}
	defer resp.Body.Close()

	// Raw provider payloads stay out of error responses; they are only
	// read here and logged on failure.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Gateway(fmt.Errorf("read provider response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.Error("SMS provider returned non-2xx",
			util.String("path", path),
			util.Int("status", resp.StatusCode))
		return apperr.Gateway(fmt.Errorf("provider %s returned status %d", path, resp.StatusCode))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Gateway(fmt.Errorf("decode provider response: %w", err))
	}

	return nil
}
