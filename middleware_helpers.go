package membership

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-membership/middleware/guards"
	"github.com/goliatone/go-router"
)

// GuardTokenValidator adapts the root TokenValidator to the guards package
// without creating an import cycle.
func GuardTokenValidator(ts TokenValidator) guards.TokenValidator {
	return guardValidator{ts: ts}
}

type guardValidator struct {
	ts TokenValidator
}

func (g guardValidator) Validate(raw string) (guards.Claims, error) {
	claims, err := g.ts.Validate(raw)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// GuardConfig assembles the guards configuration from the membership Config:
// same context key, token lookup, and auth scheme the cookie layer uses, plus
// a JSON error handler speaking the shared error taxonomy.
func GuardConfig(cfg Config, ts TokenValidator, logger Logger) guards.Config {
	if logger == nil {
		logger = defLogger{}
	}

	return guards.Config{
		TokenValidator: GuardTokenValidator(ts),
		ContextKey:     cfg.GetContextKey(),
		TokenLookup:    cfg.GetTokenLookup(),
		AuthScheme:     cfg.GetAuthScheme(),
		ErrorHandler: func(c router.Context, err error) error {
			return RenderError(c, logger, guardErrorToRich(err))
		},
		ContextEnricher: func(ctx context.Context, claims guards.Claims) context.Context {
			if c, ok := claims.(Claims); ok {
				return WithClaimsContext(ctx, c)
			}
			return ctx
		},
	}
}

func guardErrorToRich(err error) error {
	switch {
	case goerrors.Is(err, guards.ErrTokenMissing), goerrors.Is(err, guards.ErrClaimsMissing):
		return ErrUnableToFindSession
	case goerrors.Is(err, guards.ErrSubscriptionRequired):
		return ErrSubscriptionNotActive
	case goerrors.Is(err, guards.ErrRoleForbidden):
		return goerrors.New("insufficient role for this resource", goerrors.CategoryAuthz).
			WithTextCode("ROLE_FORBIDDEN").
			WithCode(goerrors.CodeForbidden)
	default:
		return err
	}
}
