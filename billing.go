package membership

import "context"

// BillingSubscription is the provider side subscription handle.
type BillingSubscription struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

// BillingProvider is the outbound contract to the payment processor. The
// concrete HTTP client lives in provider/razorpay; tests use a fake.
type BillingProvider interface {
	CreateSubscription(ctx context.Context, planID string) (*BillingSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*BillingSubscription, error)
	Refund(ctx context.Context, paymentID string) error
	ListSubscriptions(ctx context.Context, count, skip int) ([]BillingSubscription, error)
}
