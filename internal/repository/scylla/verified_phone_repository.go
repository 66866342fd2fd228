package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/apperr"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/model"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// VerifiedPhoneRepository records successfully verified phones, keyed
// by the deterministic search hash.
type VerifiedPhoneRepository struct {
	client *ScyllaClient
}

func NewVerifiedPhoneRepository(client *ScyllaClient) *VerifiedPhoneRepository {
	return &VerifiedPhoneRepository{client: client}
}

var _ model.VerifiedPhoneRepository = (*VerifiedPhoneRepository)(nil)

func (r *VerifiedPhoneRepository) CreateVerifiedPhone(ctx context.Context, record *model.VerifiedPhone) error {
	if record.VerifiedAt.IsZero() {
		record.VerifiedAt = time.Now().UTC()
	}
	if record.Method == "" {
		record.Method = "sms_otp"
	}

	query := r.client.Prepared.CreateVerifiedPhone.Bind(
		record.PhoneHash, record.PhoneEncrypted, record.PhoneKeyID,
		record.UserID, record.SourceSessionID, record.VerifiedAt,
		record.Method, record.IsActive,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create verified phone record",
			util.String("source_session_id", record.SourceSessionID),
			util.ErrorField(err))
		return apperr.Persistence(fmt.Errorf("create verified phone: %w", err))
	}

	return nil
}

func (r *VerifiedPhoneRepository) GetVerifiedPhone(ctx context.Context, phoneHash string) (*model.VerifiedPhone, error) {
	record := &model.VerifiedPhone{}

	query := r.client.Prepared.GetVerifiedPhone.Bind(phoneHash).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&record.PhoneHash, &record.PhoneEncrypted, &record.PhoneKeyID,
		&record.UserID, &record.SourceSessionID, &record.VerifiedAt,
		&record.Method, &record.IsActive,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.NotFound()
		}
		return nil, apperr.Persistence(fmt.Errorf("get verified phone: %w", err))
	}

	return record, nil
}
