package membership

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultRefundWindow is how long after the verified payment a cancellation
// still triggers a refund. The comparison is strict: elapsed must be less
// than the window.
var DefaultRefundWindow = 14 * 24 * time.Hour

// EntitlementService drives the subscription lifecycle. All status changes go
// through conditional updates keyed by the expected current status, so a
// concurrent purchase or callback loses cleanly instead of interleaving.
type EntitlementService struct {
	repo          RepositoryManager
	billing       BillingProvider
	paymentSecret []byte
	planID        string
	refundWindow  time.Duration
	clock         func() time.Time
	activity      ActivitySink
	logger        Logger
}

type EntitlementOption func(*EntitlementService)

func NewEntitlementService(repo RepositoryManager, billing BillingProvider, paymentSecret []byte, opts ...EntitlementOption) *EntitlementService {
	svc := &EntitlementService{
		repo:          repo,
		billing:       billing,
		paymentSecret: paymentSecret,
		refundWindow:  DefaultRefundWindow,
		clock:         time.Now,
		activity:      noopActivitySink{},
		logger:        defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	return svc
}

// WithPlanID sets the provider plan used for new subscriptions.
func WithPlanID(planID string) EntitlementOption {
	return func(s *EntitlementService) {
		s.planID = planID
	}
}

// WithRefundWindow overrides the refund window.
func WithRefundWindow(window time.Duration) EntitlementOption {
	return func(s *EntitlementService) {
		if window > 0 {
			s.refundWindow = window
		}
	}
}

// WithClock injects a clock, mainly for tests exercising the refund boundary.
func WithClock(clock func() time.Time) EntitlementOption {
	return func(s *EntitlementService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEntitlementActivitySink sets the sink for subscription events.
func WithEntitlementActivitySink(sink ActivitySink) EntitlementOption {
	return func(s *EntitlementService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithEntitlementLogger overrides the service logger.
func WithEntitlementLogger(logger Logger) EntitlementOption {
	return func(s *EntitlementService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// BuySubscription creates the external subscription and moves the user to
// pending. Admin accounts are rejected before any provider call. The provider
// call happens before the local write; a provider failure leaves the user
// untouched.
func (s *EntitlementService) BuySubscription(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Role == RoleAdmin {
		return nil, ErrAdminCannotSubscribe
	}

	if !CanTransitionSubscription(user.SubscriptionStatus, SubscriptionPending) {
		return nil, ErrSubscriptionConflict
	}

	sub, err := s.billing.CreateSubscription(ctx, s.planID)
	if err != nil {
		s.logger.Error("billing provider failed to create subscription", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "billing provider failed to create subscription").
			WithTextCode(TextCodeBillingProvider)
	}

	// CAS guards against a concurrent purchase that won between the read
	// above and this write.
	updated, err := s.repo.Users().UpdateSubscription(ctx, userID, SubscriptionPending, sub.ID,
		SubscriptionNone, SubscriptionCancelled)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventSubscriptionCreated, updated, map[string]any{
		"subscription_id": sub.ID,
	})

	return updated.Scrub(), nil
}

// VerifyPayment handles the provider payment callback. The HMAC signature
// over "<paymentID>|<subscriptionID>" must match before anything is read or
// written; a mismatch fails closed. Duplicate deliveries are idempotent: the
// ledger keeps exactly one row per payment id and the user stays active.
func (s *EntitlementService) VerifyPayment(ctx context.Context, userID uuid.UUID, paymentID, subscriptionID, signature string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if !VerifyPaymentSignature(s.paymentSecret, paymentID, subscriptionID, signature) {
		s.logger.Warn("payment callback signature mismatch", "payment_id", paymentID)
		return nil, ErrPaymentVerificationFailed
	}

	var updated *User

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByIdentifierTx(ctx, tx, userID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for payment verification")
		}

		// The callback has to match the subscription we actually created
		// for this user; a valid signature over someone else's ids is
		// still a verification failure.
		if user.SubscriptionID == "" || user.SubscriptionID != subscriptionID {
			return ErrPaymentVerificationFailed
		}

		record := &PaymentRecord{
			UserID:         &user.ID,
			PaymentID:      paymentID,
			SubscriptionID: subscriptionID,
			Signature:      signature,
		}

		if _, _, err := s.repo.Payments().RecordTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record payment")
		}

		updated, err = s.repo.Users().UpdateSubscriptionTx(ctx, tx, user.ID, SubscriptionActive, subscriptionID,
			SubscriptionPending)
		if err == nil {
			return nil
		}

		// A redelivered callback finds the user already active. That is
		// success, not a conflict.
		if goerrors.Is(err, ErrSubscriptionConflict) && user.SubscriptionStatus == SubscriptionActive {
			updated = user
			return nil
		}

		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "payment verification transaction failed")
	}

	s.emit(ctx, ActivityEventPaymentVerified, updated, map[string]any{
		"payment_id":      paymentID,
		"subscription_id": subscriptionID,
	})

	return updated.Scrub(), nil
}

// CancelSubscription cancels the external subscription and applies the local
// outcome: a refund plus a clean slate when the payment is younger than the
// refund window, a plain cancellation otherwise. Provider failures leave the
// local state untouched so the operation can be retried.
func (s *EntitlementService) CancelSubscription(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Role == RoleAdmin {
		return nil, ErrAdminCannotSubscribe
	}

	if user.SubscriptionStatus != SubscriptionActive || user.SubscriptionID == "" {
		return nil, ErrSubscriptionNotActive
	}

	if _, err := s.billing.CancelSubscription(ctx, user.SubscriptionID); err != nil {
		s.logger.Error("billing provider failed to cancel subscription", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "billing provider failed to cancel subscription").
			WithTextCode(TextCodeBillingProvider)
	}

	payment, err := s.repo.Payments().GetBySubscriptionID(ctx, user.SubscriptionID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up payment for cancellation")
	}

	if payment != nil && payment.CreatedAt != nil && s.withinRefundWindow(*payment.CreatedAt) {
		return s.cancelWithRefund(ctx, user, payment)
	}

	updated, err := s.repo.Users().UpdateSubscription(ctx, userID, SubscriptionCancelled, user.SubscriptionID,
		SubscriptionActive)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventSubscriptionCancelled, updated, map[string]any{
		"subscription_id": user.SubscriptionID,
	})

	return updated.Scrub(), nil
}

// ListSubscriptions proxies the provider listing, for admin dashboards.
func (s *EntitlementService) ListSubscriptions(ctx context.Context, count, skip int) ([]BillingSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	subs, err := s.billing.ListSubscriptions(ctx, count, skip)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "billing provider failed to list subscriptions").
			WithTextCode(TextCodeBillingProvider)
	}

	return subs, nil
}

func (s *EntitlementService) cancelWithRefund(ctx context.Context, user *User, payment *PaymentRecord) (*User, error) {
	// Refund first: if the provider rejects it nothing local changes and
	// the user can retry the cancellation.
	if err := s.billing.Refund(ctx, payment.PaymentID); err != nil {
		s.logger.Error("billing provider failed to refund payment", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "billing provider failed to refund payment").
			WithTextCode(TextCodeBillingProvider)
	}

	var updated *User

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Payments().DeleteByPaymentIDTx(ctx, tx, payment.PaymentID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete refunded payment record")
		}

		var err error
		updated, err = s.repo.Users().UpdateSubscriptionTx(ctx, tx, user.ID, SubscriptionNone, "",
			SubscriptionActive)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "refund transaction failed")
	}

	s.emit(ctx, ActivityEventSubscriptionRefunded, updated, map[string]any{
		"payment_id":      payment.PaymentID,
		"subscription_id": payment.SubscriptionID,
	})

	return updated.Scrub(), nil
}

func (s *EntitlementService) withinRefundWindow(paidAt time.Time) bool {
	return s.clock().Sub(paidAt) < s.refundWindow
}

func (s *EntitlementService) getUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	user.EnsureSubscriptionStatus()
	return user, nil
}

func (s *EntitlementService) emit(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: eventType,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		ToStatus:   user.SubscriptionStatus,
		Metadata:   metadata,
		OccurredAt: s.clock(),
	}

	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
