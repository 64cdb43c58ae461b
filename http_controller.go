package membership

import (
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-membership/middleware/guards"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// MembershipControllerRoutes are the paths the controller registers.
type MembershipControllerRoutes struct {
	Register      string
	Login         string
	Logout        string
	Profile       string
	PasswordReset string
	ChangePass    string
	Subscriptions string
	VerifyPayment string
}

// MembershipController is the JSON HTTP surface over the membership services.
// It binds and validates payloads, invokes commands/services, and renders the
// shared error taxonomy. Routing bootstrap stays with the host.
type MembershipController struct {
	Logger       Logger
	Repo         RepositoryManager
	Auther       HTTPAuthenticator
	Entitlements *EntitlementService
	Routes       *MembershipControllerRoutes
	ErrorHandler router.ErrorHandler

	cfg            Config
	registerUser   *RegisterUserHandler
	changePassword *ChangePasswordHandler
	resetInit      *InitializePasswordResetHandler
	resetFinalize  *FinalizePasswordResetHandler
	guardCfg       guards.Config
}

type MembershipControllerOption func(*MembershipController) *MembershipController

func WithControllerLogger(l Logger) MembershipControllerOption {
	return func(c *MembershipController) *MembershipController {
		if l != nil {
			c.Logger = l
		}
		return c
	}
}

func WithControllerErrorHandler(h router.ErrorHandler) MembershipControllerOption {
	return func(c *MembershipController) *MembershipController {
		if h != nil {
			c.ErrorHandler = h
		}
		return c
	}
}

func WithControllerRoutes(routes *MembershipControllerRoutes) MembershipControllerOption {
	return func(c *MembershipController) *MembershipController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewMembershipController(
	cfg Config,
	repo RepositoryManager,
	auther HTTPAuthenticator,
	tokens TokenValidator,
	entitlements *EntitlementService,
	mailer Mailer,
	opts ...MembershipControllerOption,
) *MembershipController {
	c := &MembershipController{
		Logger:       defLogger{},
		Repo:         repo,
		Auther:       auther,
		Entitlements: entitlements,
		cfg:          cfg,
		Routes: &MembershipControllerRoutes{
			Register:      "/register",
			Login:         "/login",
			Logout:        "/logout",
			Profile:       "/profile",
			PasswordReset: "/password-reset",
			ChangePass:    "/password/change",
			Subscriptions: "/subscriptions",
			VerifyPayment: "/subscriptions/verify",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return RenderError(ctx, c.Logger, err)
		}
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in membership controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in membership controller...")
	}

	c.registerUser = NewRegisterUserHandler(repo)
	c.changePassword = NewChangePasswordHandler(repo)
	c.resetInit = NewInitializePasswordResetHandler(repo, mailer)
	c.resetFinalize = NewFinalizePasswordResetHandler(repo)
	c.guardCfg = GuardConfig(cfg, tokens, c.Logger)

	return c
}

// RegisterMembershipRoutes wires the controller into the host router.
func RegisterMembershipRoutes[T any](app router.Router[T], controller *MembershipController) {
	authenticate := guards.Authenticate(controller.guardCfg)
	adminOnly := guards.RequireRole(controller.guardCfg, RoleAdmin)

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("membership.register")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("membership.login")
	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("membership.logout")

	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("membership.pwd-reset.post")
	app.Post(fmt.Sprintf("%s/:token", controller.Routes.PasswordReset), controller.PasswordResetExecute).
		SetName("membership.pwd-reset-do.post")

	app.Post(controller.Routes.ChangePass, chain(controller.ChangePasswordPost, authenticate)).
		SetName("membership.pwd-change.post")

	app.Get(controller.Routes.Profile, chain(controller.ProfileShow, authenticate)).
		SetName("membership.profile.get")

	app.Post(controller.Routes.Subscriptions, chain(controller.SubscriptionCreate, authenticate)).
		SetName("membership.subscription.post")
	app.Post(controller.Routes.VerifyPayment, chain(controller.SubscriptionVerify, authenticate)).
		SetName("membership.subscription.verify")
	app.Delete(controller.Routes.Subscriptions, chain(controller.SubscriptionCancel, authenticate)).
		SetName("membership.subscription.delete")
	app.Get(controller.Routes.Subscriptions, chain(controller.SubscriptionList, authenticate, adminOnly)).
		SetName("membership.subscription.list")
}

// SubscriptionGuard exposes the subscription middleware so hosts can protect
// their own content routes with the same authoritative check.
func (a *MembershipController) SubscriptionGuard() router.MiddlewareFunc {
	return guards.RequireActiveSubscription(a.guardCfg, a.Repo.Users())
}

// AuthenticateGuard exposes the token middleware for host routes.
func (a *MembershipController) AuthenticateGuard() router.MiddlewareFunc {
	return guards.Authenticate(a.guardCfg)
}

func chain(h router.HandlerFunc, mws ...router.MiddlewareFunc) router.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

func (a *MembershipController) RegisterPost(ctx router.Context) error {
	payload := RegisterRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse registration payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithCode(goerrors.CodeBadRequest))
	}

	var created *User
	msg := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
		Role:      RoleUser,
		OnResponse: func(user *User) {
			created = user
		},
	}

	if err := a.registerUser.Execute(ctx.Context(), msg); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, router.ViewContext{
		"success": true,
		"user":    created,
	})
}

type LoginRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ExtendedSession bool   `json:"extended_session"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (r LoginRequest) GetIdentifier() string    { return r.Email }
func (r LoginRequest) GetPassword() string      { return r.Password }
func (r LoginRequest) GetExtendedSession() bool { return r.ExtendedSession }

var _ LoginPayload = LoginRequest{}

func (a *MembershipController) LoginPost(ctx router.Context) error {
	payload := LoginRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse login payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
	})
}

func (a *MembershipController) LogoutPost(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
	})
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *MembershipController) PasswordResetPost(ctx router.Context) error {
	payload := PasswordResetRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	// The link base comes from configuration, never from request headers: a
	// header-derived base would let a forged Origin poison the mailed link
	// and leak the cleartext token to an attacker controlled host.
	base := strings.TrimRight(a.cfg.GetResetBaseURL(), "/")
	if base == "" {
		return a.ErrorHandler(ctx, goerrors.New("reset link base URL is not configured", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal))
	}

	msg := InitializePasswordResetMessage{
		Email:    payload.Email,
		ResetURL: base + a.Routes.PasswordReset,
	}

	if err := a.resetInit.Execute(ctx.Context(), msg); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"message": "Reset link sent to your email",
	})
}

type PasswordResetExecuteRequest struct {
	Password string `json:"password"`
}

func (r PasswordResetExecuteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

func (a *MembershipController) PasswordResetExecute(ctx router.Context) error {
	payload := PasswordResetExecuteRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	msg := FinalizePasswordResetMessage{
		Token:    ctx.Param("token"),
		Password: payload.Password,
	}

	if err := a.resetFinalize.Execute(ctx.Context(), msg); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"message": "Password updated",
	})
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

func (a *MembershipController) ChangePasswordPost(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	payload := ChangePasswordRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid payload").
			WithCode(goerrors.CodeBadRequest))
	}

	msg := ChangePasswordMessage{
		UserID:      claims.UserID(),
		OldPassword: payload.OldPassword,
		NewPassword: payload.NewPassword,
	}

	if err := a.changePassword.Execute(ctx.Context(), msg); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"message": "Password changed",
	})
}

func (a *MembershipController) ProfileShow(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), claims.UserID())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"user":    user.Scrub(),
	})
}

func (a *MembershipController) SubscriptionCreate(ctx router.Context) error {
	userID, err := a.claimsUserID(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.Entitlements.BuySubscription(ctx.Context(), userID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success":         true,
		"subscription_id": user.SubscriptionID,
		"status":          user.SubscriptionStatus,
	})
}

type VerifyPaymentRequest struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id"`
	Signature      string `json:"signature"`
}

func (r VerifyPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PaymentID, validation.Required),
		validation.Field(&r.SubscriptionID, validation.Required),
		validation.Field(&r.Signature, validation.Required),
	)
}

func (a *MembershipController) SubscriptionVerify(ctx router.Context) error {
	userID, err := a.claimsUserID(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := VerifyPaymentRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse payment payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid payment payload").
			WithCode(goerrors.CodeBadRequest))
	}

	user, err := a.Entitlements.VerifyPayment(ctx.Context(), userID, payload.PaymentID, payload.SubscriptionID, payload.Signature)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"status":  user.SubscriptionStatus,
	})
}

func (a *MembershipController) SubscriptionCancel(ctx router.Context) error {
	userID, err := a.claimsUserID(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.Entitlements.CancelSubscription(ctx.Context(), userID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"status":  user.SubscriptionStatus,
	})
}

func (a *MembershipController) SubscriptionList(ctx router.Context) error {
	count := ctx.QueryInt("count", 10)
	skip := ctx.QueryInt("skip", 0)

	subs, err := a.Entitlements.ListSubscriptions(ctx.Context(), count, skip)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success":       true,
		"subscriptions": subs,
	})
}

func (a *MembershipController) claimsUserID(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, a.cfg.GetContextKey())
	if !ok {
		return uuid.Nil, ErrUnableToFindSession
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return uuid.Nil, ErrUnableToDecodeSession
	}

	return id, nil
}
