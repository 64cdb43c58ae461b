package membership

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordPaymentSQL inserts a ledger row unless the payment id was already
// recorded. A duplicate callback matches the conflict clause and returns no
// rows, which is how Record reports idempotent redelivery.
var RecordPaymentSQL = `INSERT INTO "payment_records"
	("id", "user_id", "payment_id", "subscription_id", "signature")
VALUES
	(?, ?, ?, ?, ?)
ON CONFLICT ("payment_id") DO NOTHING
RETURNING *;`

// DeletePaymentSQL removes a ledger row after a successful refund.
var DeletePaymentSQL = `DELETE FROM "payment_records"
WHERE "payment_id" = ?
RETURNING *;`

type PaymentRecords interface {
	repository.Repository[*PaymentRecord]

	Record(ctx context.Context, record *PaymentRecord) (*PaymentRecord, bool, error)
	RecordTx(ctx context.Context, tx bun.IDB, record *PaymentRecord) (*PaymentRecord, bool, error)

	GetByPaymentID(ctx context.Context, paymentID string) (*PaymentRecord, error)
	GetByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) (*PaymentRecord, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*PaymentRecord, error)
	GetBySubscriptionIDTx(ctx context.Context, tx bun.IDB, subscriptionID string) (*PaymentRecord, error)

	DeleteByPaymentID(ctx context.Context, paymentID string) error
	DeleteByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) error
}

type payments struct {
	repository.Repository[*PaymentRecord]
	db *bun.DB
}

var (
	_ PaymentRecords                        = (*payments)(nil)
	_ repository.Repository[*PaymentRecord] = (*payments)(nil)
)

func NewPaymentRecordsRepository(db *bun.DB) PaymentRecords {
	repo := repository.NewRepository[*PaymentRecord](db, repository.ModelHandlers[*PaymentRecord]{
		NewRecord: func() *PaymentRecord { return &PaymentRecord{} },
		GetID: func(p *PaymentRecord) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *PaymentRecord, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "payment_id"
		},
	})

	return &payments{
		Repository: repo,
		db:         db,
	}
}

func (p *payments) Record(ctx context.Context, record *PaymentRecord) (*PaymentRecord, bool, error) {
	return p.RecordTx(ctx, p.db, record)
}

// RecordTx inserts the ledger row. The bool is false when the payment id was
// already present, in which case the stored row is returned instead.
func (p *payments) RecordTx(ctx context.Context, tx bun.IDB, record *PaymentRecord) (*PaymentRecord, bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	res, err := p.Repository.RawTx(ctx, tx, RecordPaymentSQL,
		record.ID.String(),
		record.UserID,
		record.PaymentID,
		record.SubscriptionID,
		record.Signature,
	)
	if err != nil {
		return nil, false, err
	}

	if len(res) == 0 {
		existing, err := p.GetByPaymentIDTx(ctx, tx, record.PaymentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return res[0], true, nil
}

func (p *payments) GetByPaymentID(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	return p.GetByPaymentIDTx(ctx, p.db, paymentID)
}

func (p *payments) GetByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) (*PaymentRecord, error) {
	record := &PaymentRecord{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.payment_id = ?", paymentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (p *payments) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*PaymentRecord, error) {
	return p.GetBySubscriptionIDTx(ctx, p.db, subscriptionID)
}

func (p *payments) GetBySubscriptionIDTx(ctx context.Context, tx bun.IDB, subscriptionID string) (*PaymentRecord, error) {
	record := &PaymentRecord{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.subscription_id = ?", subscriptionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (p *payments) DeleteByPaymentID(ctx context.Context, paymentID string) error {
	return p.DeleteByPaymentIDTx(ctx, p.db, paymentID)
}

func (p *payments) DeleteByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) error {
	res, err := p.Repository.RawTx(ctx, tx, DeletePaymentSQL, paymentID)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"payment_id": paymentID,
			})
	}

	return nil
}
