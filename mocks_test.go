package membership_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	membership "github.com/goliatone/go-membership"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// fakeUsers is an in-memory Users repository. The embedded Repository is nil:
// only the methods the services actually call are implemented, anything else
// panics and points at a missing stub.
type fakeUsers struct {
	repository.Repository[*membership.User]
	mu      sync.Mutex
	records map[string]*membership.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{records: map[string]*membership.User{}}
}

func (f *fakeUsers) add(user *membership.User) *membership.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.EnsureSubscriptionStatus()
	cp := *user
	f.records[user.ID.String()] = &cp
	out := cp
	return &out
}

func (f *fakeUsers) get(id uuid.UUID) *membership.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.records[id.String()]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*membership.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.records[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeUsers) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*membership.User, error) {
	return f.GetByIdentifierTx(ctx, nil, identifier, criteria...)
}

func (f *fakeUsers) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*membership.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.records[identifier]; ok {
		cp := *u
		return &cp, nil
	}

	email := membership.NormalizeEmail(identifier)
	for _, u := range f.records {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}

	return nil, repository.NewRecordNotFound()
}

func (f *fakeUsers) Create(ctx context.Context, record *membership.User, criteria ...repository.InsertCriteria) (*membership.User, error) {
	return f.CreateTx(ctx, nil, record, criteria...)
}

func (f *fakeUsers) CreateTx(ctx context.Context, tx bun.IDB, record *membership.User, criteria ...repository.InsertCriteria) (*membership.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.records {
		if u.Email == membership.NormalizeEmail(record.Email) {
			return nil, membership.ErrEmailAlreadyExists
		}
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Role == "" {
		record.Role = membership.RoleUser
	}
	record.Email = membership.NormalizeEmail(record.Email)
	record.EnsureSubscriptionStatus()
	now := time.Now()
	record.CreatedAt = &now

	cp := *record
	f.records[record.ID.String()] = &cp
	return record, nil
}

func (f *fakeUsers) Register(ctx context.Context, user *membership.User) (*membership.User, error) {
	return f.CreateTx(ctx, nil, user)
}

func (f *fakeUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *membership.User) (*membership.User, error) {
	return f.CreateTx(ctx, tx, user)
}

func (f *fakeUsers) ChangePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return f.ChangePasswordTx(ctx, nil, id, passwordHash)
}

func (f *fakeUsers) ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.records[id.String()]
	if !ok {
		return repository.NewRecordNotFound()
	}

	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpires = nil
	return nil
}

func (f *fakeUsers) SetResetToken(ctx context.Context, id uuid.UUID, digest string, expiresAt time.Time) error {
	return f.SetResetTokenTx(ctx, nil, id, digest, expiresAt)
}

func (f *fakeUsers) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, digest string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.records[id.String()]
	if !ok {
		return repository.NewRecordNotFound()
	}

	u.ResetTokenHash = digest
	u.ResetTokenExpires = &expiresAt
	return nil
}

func (f *fakeUsers) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return f.ClearResetTokenTx(ctx, nil, id)
}

func (f *fakeUsers) ClearResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.records[id.String()]; ok {
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
	}
	return nil
}

func (f *fakeUsers) ConsumeResetToken(ctx context.Context, digest, passwordHash string) (*membership.User, error) {
	return f.ConsumeResetTokenTx(ctx, nil, digest, passwordHash)
}

func (f *fakeUsers) ConsumeResetTokenTx(ctx context.Context, tx bun.IDB, digest, passwordHash string) (*membership.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for _, u := range f.records {
		if u.ResetTokenHash == "" || u.ResetTokenHash != digest {
			continue
		}
		if u.ResetTokenExpires == nil || !u.ResetTokenExpires.After(now) {
			continue
		}

		u.PasswordHash = passwordHash
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
		u.ResetedAt = &now

		cp := *u
		return &cp, nil
	}

	return nil, membership.ErrResetTokenInvalid
}

func (f *fakeUsers) UpdateSubscription(ctx context.Context, id uuid.UUID, next membership.SubscriptionStatus, externalID string, expected ...membership.SubscriptionStatus) (*membership.User, error) {
	return f.UpdateSubscriptionTx(ctx, nil, id, next, externalID, expected...)
}

func (f *fakeUsers) UpdateSubscriptionTx(ctx context.Context, tx bun.IDB, id uuid.UUID, next membership.SubscriptionStatus, externalID string, expected ...membership.SubscriptionStatus) (*membership.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(expected) == 0 {
		expected = membership.SubscriptionSources(next)
	}

	u, ok := f.records[id.String()]
	if !ok {
		return nil, membership.ErrSubscriptionConflict
	}

	match := false
	for _, status := range expected {
		if u.SubscriptionStatus == status {
			match = true
			break
		}
	}

	if !match {
		return nil, membership.ErrSubscriptionConflict
	}

	u.SubscriptionStatus = next
	u.SubscriptionID = externalID

	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SubscriptionStatusByID(ctx context.Context, id string) (membership.SubscriptionStatus, error) {
	user, err := f.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	user.EnsureSubscriptionStatus()
	return user.SubscriptionStatus, nil
}

func (f *fakeUsers) TrackAttemptedLogin(ctx context.Context, user *membership.User) error {
	return f.TrackAttemptedLoginTx(ctx, nil, user)
}

func (f *fakeUsers) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *membership.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.records[user.ID.String()]; ok {
		u.LoginAttempts = user.LoginAttempts + 1
		now := time.Now()
		u.LoginAttemptAt = &now
	}
	return nil
}

func (f *fakeUsers) TrackSuccessfulLogin(ctx context.Context, user *membership.User) error {
	return f.TrackSuccessfulLoginTx(ctx, nil, user)
}

func (f *fakeUsers) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *membership.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.records[user.ID.String()]; ok {
		now := time.Now()
		u.LoggedInAt = &now
		u.LoginAttempts = 0
		u.LoginAttemptAt = nil
	}
	return nil
}

// fakePayments is an in-memory payment ledger with the same duplicate
// semantics as the SQL implementation.
type fakePayments struct {
	repository.Repository[*membership.PaymentRecord]
	mu      sync.Mutex
	records map[string]*membership.PaymentRecord
}

func newFakePayments() *fakePayments {
	return &fakePayments{records: map[string]*membership.PaymentRecord{}}
}

func (f *fakePayments) add(record *membership.PaymentRecord) *membership.PaymentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	cp := *record
	f.records[record.PaymentID] = &cp
	out := cp
	return &out
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakePayments) Record(ctx context.Context, record *membership.PaymentRecord) (*membership.PaymentRecord, bool, error) {
	return f.RecordTx(ctx, nil, record)
}

func (f *fakePayments) RecordTx(ctx context.Context, tx bun.IDB, record *membership.PaymentRecord) (*membership.PaymentRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.records[record.PaymentID]; ok {
		cp := *existing
		return &cp, false, nil
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now()
	record.CreatedAt = &now

	cp := *record
	f.records[record.PaymentID] = &cp
	return record, true, nil
}

func (f *fakePayments) GetByPaymentID(ctx context.Context, paymentID string) (*membership.PaymentRecord, error) {
	return f.GetByPaymentIDTx(ctx, nil, paymentID)
}

func (f *fakePayments) GetByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) (*membership.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if record, ok := f.records[paymentID]; ok {
		cp := *record
		return &cp, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakePayments) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*membership.PaymentRecord, error) {
	return f.GetBySubscriptionIDTx(ctx, nil, subscriptionID)
}

func (f *fakePayments) GetBySubscriptionIDTx(ctx context.Context, tx bun.IDB, subscriptionID string) (*membership.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, record := range f.records {
		if record.SubscriptionID == subscriptionID {
			cp := *record
			return &cp, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakePayments) DeleteByPaymentID(ctx context.Context, paymentID string) error {
	return f.DeleteByPaymentIDTx(ctx, nil, paymentID)
}

func (f *fakePayments) DeleteByPaymentIDTx(ctx context.Context, tx bun.IDB, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[paymentID]; !ok {
		return repository.NewRecordNotFound()
	}
	delete(f.records, paymentID)
	return nil
}

// fakeRepo bundles the fakes behind the RepositoryManager contract.
// Transactions degrade to direct calls; the fakes are already atomic.
type fakeRepo struct {
	users    *fakeUsers
	payments *fakePayments
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    newFakeUsers(),
		payments: newFakePayments(),
	}
}

func (f *fakeRepo) Users() membership.Users             { return f.users }
func (f *fakeRepo) Payments() membership.PaymentRecords { return f.payments }
func (f *fakeRepo) Validate() error                     { return nil }
func (f *fakeRepo) MustValidate()                       {}

func (f *fakeRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn(ctx, bun.Tx{})
	}
}

var _ membership.RepositoryManager = (*fakeRepo)(nil)

// fakeBilling scripts the provider side of the lifecycle.
type fakeBilling struct {
	mu            sync.Mutex
	nextSubID     string
	createErr     error
	cancelErr     error
	refundErr     error
	created       []string
	cancelled     []string
	refunded      []string
	subscriptions []membership.BillingSubscription
}

func (f *fakeBilling) CreateSubscription(ctx context.Context, planID string) (*membership.BillingSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	id := f.nextSubID
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	f.created = append(f.created, id)
	return &membership.BillingSubscription{ID: id, PlanID: planID, Status: "created"}, nil
}

func (f *fakeBilling) CancelSubscription(ctx context.Context, subscriptionID string) (*membership.BillingSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelErr != nil {
		return nil, f.cancelErr
	}

	f.cancelled = append(f.cancelled, subscriptionID)
	return &membership.BillingSubscription{ID: subscriptionID, Status: "cancelled"}, nil
}

func (f *fakeBilling) Refund(ctx context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refundErr != nil {
		return f.refundErr
	}

	f.refunded = append(f.refunded, paymentID)
	return nil
}

func (f *fakeBilling) ListSubscriptions(ctx context.Context, count, skip int) ([]membership.BillingSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions, nil
}

var _ membership.BillingProvider = (*fakeBilling)(nil)

type sentMail struct {
	to      string
	subject string
	body    string
}

// fakeMailer records deliveries and can be told to fail.
type fakeMailer struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentMail
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

var _ membership.Mailer = (*fakeMailer)(nil)

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []membership.ActivityEvent
}

func (r *recordingSink) Record(ctx context.Context, event membership.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) eventTypes() []membership.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]membership.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
