package razorpay

import "github.com/goliatone/go-membership"

type createSubscriptionRequest struct {
	PlanID         string `json:"plan_id"`
	CustomerNotify int    `json:"customer_notify"`
	TotalCount     int    `json:"total_count"`
}

type refundRequest struct {
	Speed string `json:"speed,omitempty"`
}

type subscriptionEntity struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

func (s subscriptionEntity) toBilling() *membership.BillingSubscription {
	return &membership.BillingSubscription{
		ID:     s.ID,
		PlanID: s.PlanID,
		Status: s.Status,
	}
}

type subscriptionCollection struct {
	Count int                  `json:"count"`
	Items []subscriptionEntity `json:"items"`
}
