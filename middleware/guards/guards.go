// Package guards provides the request authorization chain: Authenticate
// resolves and validates the session token, RequireRole gates on the token
// role, and RequireActiveSubscription re-reads the authoritative subscription
// status from storage. The interfaces here mirror the root package so the two
// do not form an import cycle.
package guards

import (
	"context"
	"errors"

	"github.com/goliatone/go-router"
)

var (
	// ErrTokenMissing means no token was found in any configured location.
	ErrTokenMissing = errors.New("missing or malformed session token")
	// ErrClaimsMissing means a guard ran without Authenticate before it.
	ErrClaimsMissing = errors.New("authentication required")
	// ErrRoleForbidden means the token role is not in the allowed set.
	ErrRoleForbidden = errors.New("insufficient role")
	// ErrSubscriptionRequired means the authoritative status is not active.
	ErrSubscriptionRequired = errors.New("active subscription required")
)

const (
	adminRole    = "admin"
	activeStatus = "active"
)

// Claims mirrors the validated claims the root package produces.
type Claims interface {
	UserID() string
	Role() string
	HasRole(role string) bool
}

// TokenValidator validates a raw token into claims.
type TokenValidator interface {
	Validate(tokenString string) (Claims, error)
}

// StatusReader is the authoritative subscription status lookup. It must read
// from storage, never from token claims.
type StatusReader interface {
	SubscriptionStatusByID(ctx context.Context, id string) (string, error)
}

type Config struct {
	// Filter skips the guard when it returns true.
	Filter func(router.Context) bool
	// ErrorHandler renders guard failures. Defaults to plain status codes.
	ErrorHandler router.ErrorHandler
	// TokenValidator is required for Authenticate.
	TokenValidator TokenValidator
	// ContextKey is the locals key claims are stored under. Defaults to "user".
	ContextKey string
	// TokenLookup is a comma separated list of sources, e.g.
	// "header:Authorization,cookie:user".
	TokenLookup string
	// AuthScheme strips the prefix from header tokens. Defaults to "Bearer".
	AuthScheme string
	// ContextEnricher propagates claims into the standard context.
	ContextEnricher func(c context.Context, claims Claims) context.Context
}

func (cfg Config) withDefaults() Config {
	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return cfg
}

func defaultErrorHandler(c router.Context, err error) error {
	switch {
	case errors.Is(err, ErrRoleForbidden), errors.Is(err, ErrSubscriptionRequired):
		return c.Status(router.StatusForbidden).SendString(err.Error())
	default:
		return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
	}
}

// Authenticate extracts the session token from the configured locations,
// validates it, and stores the claims in router locals and the request
// context. Everything downstream reads the claims from there.
func Authenticate(config ...Config) router.MiddlewareFunc {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg = cfg.withDefaults()

	if cfg.TokenValidator == nil {
		panic("MEMBERSHIP: guards configuration: TokenValidator is required.")
	}

	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return hf(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return hf(ctx)
		}
	}
}

// RequireRole passes only when the authenticated role is in the allowed set.
// Running it without Authenticate before it fails with ErrClaimsMissing.
func RequireRole(cfg Config, roles ...string) router.MiddlewareFunc {
	cfg = cfg.withDefaults()

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := claimsFromLocals(ctx, cfg.ContextKey)
			if !ok {
				return cfg.ErrorHandler(ctx, ErrClaimsMissing)
			}

			for _, role := range roles {
				if claims.HasRole(role) {
					return hf(ctx)
				}
			}

			return cfg.ErrorHandler(ctx, ErrRoleForbidden)
		}
	}
}

// RequireActiveSubscription passes admins through and otherwise requires the
// authoritative subscription status to be active. The status always comes
// from the reader; the snapshot inside the token is never trusted here
// because it can be hours old.
func RequireActiveSubscription(cfg Config, reader StatusReader) router.MiddlewareFunc {
	cfg = cfg.withDefaults()

	if reader == nil {
		panic("MEMBERSHIP: guards configuration: StatusReader is required.")
	}

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := claimsFromLocals(ctx, cfg.ContextKey)
			if !ok {
				return cfg.ErrorHandler(ctx, ErrClaimsMissing)
			}

			if claims.HasRole(adminRole) {
				return hf(ctx)
			}

			status, err := reader.SubscriptionStatusByID(ctx.Context(), claims.UserID())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if status != activeStatus {
				return cfg.ErrorHandler(ctx, ErrSubscriptionRequired)
			}

			return hf(ctx)
		}
	}
}

func claimsFromLocals(ctx router.Context, key string) (Claims, bool) {
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(Claims)
	return claims, ok
}
