package membership

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts     = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeEmailExists         = "EMAIL_EXISTS"
	TextCodeResetTokenInvalid   = "RESET_TOKEN_INVALID"
	TextCodeAdminNoSubscription = "ADMIN_CANNOT_SUBSCRIBE"
	TextCodePaymentVerification = "PAYMENT_VERIFICATION_FAILED"
	TextCodeSubscriptionMissing = "SUBSCRIPTION_NOT_ACTIVE"
	TextCodeSubscriptionState   = "SUBSCRIPTION_CONFLICT"
	TextCodeBillingProvider     = "BILLING_PROVIDER_ERROR"
	TextCodeMailProvider        = "MAIL_PROVIDER_ERROR"
)

// ErrIdentityNotFound is returned when no user matches the given identifier.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is returned on a password mismatch or unknown email.
// The same error covers both cases so callers cannot probe for accounts.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned when an account is in its cool down window.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for structurally valid session tokens past their expiry.
var ErrTokenExpired = errors.New("session token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail signature or structure checks.
var ErrTokenMalformed = errors.New("session token invalid or malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToFindSession is returned when a request carries no session token.
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when claims cannot be decoded from a token.
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode("SESSION_DECODE_FAILED").
	WithCode(errors.CodeUnauthorized)

// ErrEmailAlreadyExists is returned when registering a duplicate email.
var ErrEmailAlreadyExists = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailExists).
	WithCode(errors.CodeConflict)

// ErrResetTokenInvalid covers unknown, already consumed, and expired reset
// tokens. The three cases are indistinguishable on purpose.
var ErrResetTokenInvalid = errors.New("reset token is invalid or has expired", errors.CategoryBadInput).
	WithTextCode(TextCodeResetTokenInvalid).
	WithCode(errors.CodeBadRequest)

// ErrAdminCannotSubscribe is returned when an admin account tries to buy or
// cancel a subscription.
var ErrAdminCannotSubscribe = errors.New("admin accounts cannot manage subscriptions", errors.CategoryAuthz).
	WithTextCode(TextCodeAdminNoSubscription).
	WithCode(errors.CodeForbidden)

// ErrPaymentVerificationFailed is returned when a payment callback signature
// does not match. The expected signature is never included.
var ErrPaymentVerificationFailed = errors.New("payment verification failed", errors.CategoryBadInput).
	WithTextCode(TextCodePaymentVerification).
	WithCode(errors.CodeBadRequest)

// ErrSubscriptionNotActive is returned when an operation requires an active
// subscription and the authoritative status is anything else.
var ErrSubscriptionNotActive = errors.New("subscription is not active", errors.CategoryAuthz).
	WithTextCode(TextCodeSubscriptionMissing).
	WithCode(errors.CodeForbidden)

// ErrSubscriptionConflict is returned when a transition finds the subscription
// in a status it did not expect, e.g. two concurrent purchases.
var ErrSubscriptionConflict = errors.New("subscription is not in a valid state for this operation", errors.CategoryConflict).
	WithTextCode(TextCodeSubscriptionState).
	WithCode(errors.CodeConflict)

// ErrNoEmptyPassword rejects empty plaintext before it ever reaches bcrypt.
var ErrNoEmptyPassword = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode("EMPTY_PASSWORD").
	WithCode(errors.CodeBadRequest)

// IsAuthError reports whether err maps to a 401 for HTTP rendering.
func IsAuthError(err error) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category == errors.CategoryAuth
}

// TextCode extracts the text code from a rich error, or "" for plain errors.
func TextCode(err error) string {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return ""
	}
	return richErr.TextCode
}
