package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
)

func TestMaskPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"66812345678", "*******5678"},
		{"0812345678", "******5678"},
		{"5678", "****"},
		{"12", "**"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskPhone(tc.in), "input %q", tc.in)
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, model.SeverityInfo, severityFor(true))
	assert.Equal(t, model.SeverityWarn, severityFor(false))
}

func TestEventComposition(t *testing.T) {
	data := map[string]interface{}{"session_id": "s-1"}
	ev := event("otp_send", model.CategoryOTP, model.SeverityInfo,
		"66812345678", "req-1", true, 125*time.Millisecond, data)

	require.NotEmpty(t, ev.EventID)
	assert.Equal(t, "otp_send", ev.EventType)
	assert.Equal(t, model.CategoryOTP, ev.Category)
	assert.Equal(t, "*******5678", ev.PhoneMasked,
		"plaintext phones must never reach a sink")
	assert.Equal(t, "req-1", ev.RequestID)
	assert.True(t, ev.Success)
	assert.Equal(t, int64(125), ev.ResponseTimeMs)
	assert.Equal(t, ev.Timestamp.UTC().Format("2006-01-02"), ev.EventDate)
	assert.Equal(t, data, ev.EventData)
}

func TestEventIDsAreUnique(t *testing.T) {
	a := event("otp_send", model.CategoryOTP, model.SeverityInfo, "", "", true, 0, nil)
	b := event("otp_send", model.CategoryOTP, model.SeverityInfo, "", "", true, 0, nil)
	assert.NotEqual(t, a.EventID, b.EventID)
}
