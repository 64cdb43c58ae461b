package membership

// IsValidRole checks if the role is one of the predefined valid roles
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidSubscriptionStatus checks a status against the lifecycle set
func IsValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionNone, SubscriptionPending, SubscriptionActive, SubscriptionCancelled:
		return true
	default:
		return false
	}
}

// subscriptionTransitions is the allowed transition graph. Every status
// change goes through here; anything else is a conflict.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionNone:      {SubscriptionPending},
	SubscriptionPending:   {SubscriptionActive, SubscriptionNone},
	SubscriptionActive:    {SubscriptionCancelled, SubscriptionNone},
	SubscriptionCancelled: {SubscriptionPending},
}

// CanTransitionSubscription reports whether from -> to is a legal move.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SubscriptionSources returns every status that may legally move to the given
// target. Used to build the expected set for conditional updates.
func SubscriptionSources(to SubscriptionStatus) []SubscriptionStatus {
	var out []SubscriptionStatus
	for from, targets := range subscriptionTransitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}
