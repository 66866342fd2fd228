// Package audit records every security-relevant action as an immutable
// event fanned out to three sinks: ClickHouse for analytics, Kafka for
// downstream consumers, Elasticsearch for operator search.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/bucketing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/client"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

const (
	insertEventQuery = `INSERT INTO otp_audit_events (
        event_date, event_bucket, event_id, event_time, event_type,
        category, severity, phone_masked, request_id, success,
        response_time_ms, event_data)`

	// sinkTimeout bounds the whole fan-out; audit must never hold a
	// request hostage.
	sinkTimeout = 3 * time.Second
)

// Recorder is the audit contract. Implementations never return errors:
// a failed sink degrades to structured logging, it does not fail the
// operation being audited.
type Recorder interface {
	LogOTPSend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{})
	LogOTPVerify(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{})
	LogOTPResend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{})
	LogRateLimit(ctx context.Context, purpose, requestID string, data map[string]interface{})
	LogSecurityEvent(ctx context.Context, eventType string, severity model.EventSeverity, requestID string, data map[string]interface{})
	LogError(ctx context.Context, eventType, requestID string, err error, data map[string]interface{})
	RecentEvents(ctx context.Context, limit int) ([]model.AuditEvent, error)
}

// Logger fans each event out to all three sinks concurrently. Kafka is
// optional: when the producer is nil (degraded startup) the other two
// sinks still receive the event.
type Logger struct {
	clickhouse *client.ClickHouseClient
	producer   *client.KafkaProducer
	elastic    *client.ESClient
	buckets    *bucketing.BucketingManager
	auditIndex string
}

func NewLogger(ch *client.ClickHouseClient, producer *client.KafkaProducer, es *client.ESClient, buckets *bucketing.BucketingManager, cfg *config.Config) *Logger {
	return &Logger{
		clickhouse: ch,
		producer:   producer,
		elastic:    es,
		buckets:    buckets,
		auditIndex: cfg.Elastic.AuditIndex,
	}
}

var _ Recorder = (*Logger)(nil)

// MaskPhone keeps only the last four digits. Everything that reaches an
// audit sink goes through this first.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func (l *Logger) LogOTPSend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	l.record(ctx, event("otp_send", model.CategoryOTP, severityFor(success), phone, requestID, success, elapsed, data))
}

func (l *Logger) LogOTPVerify(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	l.record(ctx, event("otp_verify", model.CategoryOTP, severityFor(success), phone, requestID, success, elapsed, data))
}

func (l *Logger) LogOTPResend(ctx context.Context, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) {
	l.record(ctx, event("otp_resend", model.CategoryOTP, severityFor(success), phone, requestID, success, elapsed, data))
}

func (l *Logger) LogRateLimit(ctx context.Context, purpose, requestID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["purpose"] = purpose
	l.record(ctx, event("rate_limit_exceeded", model.CategorySecurity, model.SeverityWarn, "", requestID, false, 0, data))
}

func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, severity model.EventSeverity, requestID string, data map[string]interface{}) {
	l.record(ctx, event(eventType, model.CategorySecurity, severity, "", requestID, false, 0, data))
}

func (l *Logger) LogError(ctx context.Context, eventType, requestID string, err error, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.record(ctx, event(eventType, model.CategoryError, model.SeverityError, "", requestID, false, 0, data))
}

func severityFor(success bool) model.EventSeverity {
	if success {
		return model.SeverityInfo
	}
	return model.SeverityWarn
}

func event(eventType string, category model.EventCategory, severity model.EventSeverity, phone, requestID string, success bool, elapsed time.Duration, data map[string]interface{}) *model.AuditEvent {
	now := time.Now().UTC()
	return &model.AuditEvent{
		EventID:        uuid.New().String(),
		EventDate:      now.Format("2006-01-02"),
		Timestamp:      now,
		EventType:      eventType,
		Category:       category,
		Severity:       severity,
		PhoneMasked:    MaskPhone(phone),
		RequestID:      requestID,
		Success:        success,
		ResponseTimeMs: elapsed.Milliseconds(),
		EventData:      data,
	}
}

// record fans the event out. The sinks run concurrently under their own
// deadline, detached from the request context so a cancelled request
// still gets audited.
func (l *Logger) record(ctx context.Context, ev *model.AuditEvent) {
	ev.EventBucket = l.buckets.GetEventBucket(ev.EventID)

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)

	g, gctx := errgroup.WithContext(sinkCtx)

	g.Go(func() error {
		return l.writeClickhouse(gctx, ev)
	})
	g.Go(func() error {
		return l.publishKafka(gctx, ev)
	})
	g.Go(func() error {
		return l.indexElastic(gctx, ev)
	})

	go func() {
		defer cancel()
		if err := g.Wait(); err != nil {
			util.Error("Audit sink write failed",
				util.String("event_id", ev.EventID),
				util.String("event_type", ev.EventType),
				util.ErrorField(err))
		}
	}()
}

func (l *Logger) writeClickhouse(ctx context.Context, ev *model.AuditEvent) error {
	dataJSON, err := json.Marshal(ev.EventData)
	if err != nil {
		dataJSON = []byte("{}")
	}

	row := []interface{}{
		ev.EventDate, ev.EventBucket, ev.EventID, ev.Timestamp,
		ev.EventType, string(ev.Category), string(ev.Severity),
		ev.PhoneMasked, ev.RequestID, ev.Success,
		ev.ResponseTimeMs, string(dataJSON),
	}

	if err := l.clickhouse.BatchInsert(ctx, insertEventQuery, [][]interface{}{row}); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	return nil
}

func (l *Logger) publishKafka(ctx context.Context, ev *model.AuditEvent) error {
	if l.producer == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka encode: %w", err)
	}

	headers := map[string]string{
		"event_type": ev.EventType,
		"category":   string(ev.Category),
	}

	if err := l.producer.ProduceMessage(ctx, []byte(ev.EventID), payload, headers); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

func (l *Logger) indexElastic(ctx context.Context, ev *model.AuditEvent) error {
	res, err := l.elastic.IndexDocument(ctx, l.auditIndex, ev.EventID, ev)
	if err != nil {
		return fmt.Errorf("elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch: index returned %s", res.Status())
	}
	return nil
}

// RecentEvents serves the internal audit endpoint from Elasticsearch,
// newest first.
func (l *Logger) RecentEvents(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"match_all": map[string]interface{}{},
		},
	}

	res, err := l.elastic.Search(ctx, l.auditIndex, query)
	if err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source model.AuditEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := l.elastic.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("parse audit events: %w", err)
	}

	events := make([]model.AuditEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}
