package membership_test

import (
	"context"
	"testing"

	membership "github.com/goliatone/go-membership"
	"github.com/goliatone/go-membership/middleware/guards"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGuardTokenValidator(t *testing.T) {
	svc := newTestTokenService()

	token, err := svc.Generate(testIdentity{
		id:   uuid.NewString(),
		role: membership.RoleAdmin,
	})
	require.NoError(t, err)

	validator := membership.GuardTokenValidator(svc)

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.True(t, claims.HasRole(membership.RoleAdmin))

	_, err = validator.Validate("garbage")
	assert.Error(t, err)
}

func TestGuardConfigRendersTaxonomyErrors(t *testing.T) {
	svc := newTestTokenService()
	cfg := membership.GuardConfig(testConfig{}, svc, nil)

	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "header:Authorization", cfg.TokenLookup)

	// A missing token renders the shared session error as 401 JSON.
	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")
	ctx.On("JSON", 401, mock.MatchedBy(func(v router.ViewContext) bool {
		payload, ok := v["error"].(router.ViewContext)
		return ok && payload["text_code"] == "SESSION_NOT_FOUND"
	})).Return(nil)

	err := guards.Authenticate(cfg)(func(c router.Context) error {
		t.Fatal("handler must not run without a token")
		return nil
	})(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
}

func TestGuardConfigEndToEnd(t *testing.T) {
	svc := newTestTokenService()
	cfg := membership.GuardConfig(testConfig{}, svc, nil)

	userID := uuid.NewString()
	token, err := svc.Generate(testIdentity{
		id:           userID,
		role:         membership.RoleUser,
		subscription: membership.SubscriptionActive,
	})
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer " + token
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "user", mock.Anything).Return(nil)
	ctx.On("Context").Return(context.Background())
	ctx.On("SetContext", mock.Anything).Return()

	var seen membership.Claims
	err = guards.Authenticate(cfg)(func(c router.Context) error {
		claims, ok := membership.GetRouterClaims(c, "user")
		require.True(t, ok)
		seen = claims
		return nil
	})(ctx)
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, userID, seen.UserID())
	assert.Equal(t, membership.SubscriptionActive, seen.SubscriptionSnapshot())
}
