package membership_test

import (
	"context"
	"errors"
	"testing"
	"time"

	membership "github.com/goliatone/go-membership"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testLoginPayload struct {
	identifier string
	password   string
	extended   bool
}

func (p testLoginPayload) GetIdentifier() string    { return p.identifier }
func (p testLoginPayload) GetPassword() string      { return p.password }
func (p testLoginPayload) GetExtendedSession() bool { return p.extended }

func TestNewHTTPAuthenticatorDurations(t *testing.T) {
	auther := membership.NewAuthenticator(membership.NewUserProvider(newFakeUsers()), testConfig{})

	httpAuth, err := membership.NewHTTPAuthenticator(auther, testConfig{})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, httpAuth.GetCookieDuration())
	assert.Equal(t, 24*time.Hour, httpAuth.GetExtendedCookieDuration())
}

func TestRouteAuthenticatorLogin(t *testing.T) {
	users := newFakeUsers()
	seedUser(t, users, "pepe.rone@example.com", "secret-word")

	auther := membership.NewAuthenticator(membership.NewUserProvider(users), testConfig{})
	httpAuth, err := membership.NewHTTPAuthenticator(auther, testConfig{})
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "user" && c.Value != "" && c.HTTPOnly && c.Secure && c.SameSite == "Lax"
	})).Return()

	err = httpAuth.Login(ctx, testLoginPayload{
		identifier: "pepe.rone@example.com",
		password:   "secret-word",
	})
	require.NoError(t, err)

	ctx.AssertExpectations(t)
}

func TestRouteAuthenticatorLoginBadCredentials(t *testing.T) {
	users := newFakeUsers()
	seedUser(t, users, "pepe.rone@example.com", "secret-word")

	auther := membership.NewAuthenticator(membership.NewUserProvider(users), testConfig{})
	httpAuth, err := membership.NewHTTPAuthenticator(auther, testConfig{})
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	err = httpAuth.Login(ctx, testLoginPayload{
		identifier: "pepe.rone@example.com",
		password:   "wrong",
	})
	assert.ErrorIs(t, err, membership.ErrInvalidCredentials)
	ctx.AssertNotCalled(t, "Cookie", mock.Anything)
}

func TestRouteAuthenticatorLogout(t *testing.T) {
	auther := membership.NewAuthenticator(membership.NewUserProvider(newFakeUsers()), testConfig{})
	httpAuth, err := membership.NewHTTPAuthenticator(auther, testConfig{})
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "user" && c.Value == "" && c.Expires.Before(time.Now())
	})).Return()

	httpAuth.Logout(ctx)
	ctx.AssertExpectations(t)
}

func TestRenderErrorRichError(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("JSON", 409, mock.MatchedBy(func(v router.ViewContext) bool {
		payload, ok := v["error"].(router.ViewContext)
		if !ok {
			return false
		}
		return v["success"] == false && payload["text_code"] == membership.TextCodeEmailExists
	})).Return(nil)

	err := membership.RenderError(ctx, nil, membership.ErrEmailAlreadyExists)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
}

func TestRenderErrorPlainError(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("JSON", 500, mock.MatchedBy(func(v router.ViewContext) bool {
		payload, ok := v["error"].(router.ViewContext)
		if !ok {
			return false
		}

		// The original error text never reaches the response body.
		return payload["message"] == "An unexpected server error occurred"
	})).Return(nil)

	err := membership.RenderError(ctx, nil, errors.New("pq: connection to db-internal failed"))
	require.NoError(t, err)
	ctx.AssertExpectations(t)
}
