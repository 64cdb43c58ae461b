package membership

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ResetTokenTTL is how long a reset token stays valid.
var ResetTokenTTL = 15 * time.Minute

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Customer email."`
	// ResetURL is the public base for the reset link, e.g.
	// "https://example.com/password-reset". The cleartext token is appended.
	ResetURL   string `json:"reset_url"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	Email     string
	ExpiresAt time.Time
	Success   bool
}

// InitializePasswordResetHandler stores a hashed one time token on the user
// and mails the cleartext. Only the SHA-256 digest is persisted; if the mail
// cannot be delivered the stored digest is cleared again so no orphaned token
// stays live.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	tokenTTL time.Duration
}

func NewInitializePasswordResetHandler(repo RepositoryManager, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		mailer:   mailer,
		activity: noopActivitySink{},
		logger:   defLogger{},
		tokenTTL: ResetTokenTTL,
	}
}

// WithTokenTTL overrides the reset token validity window.
func (h *InitializePasswordResetHandler) WithTokenTTL(ttl time.Duration) *InitializePasswordResetHandler {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
	return h
}

// WithActivitySink sets the sink used to emit reset request events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	user := &User{}
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	cleartext, digest, err := GenerateResetToken()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}

	expiresAt := time.Now().Add(h.tokenTTL)

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().GetByIdentifierTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if err := h.repo.Users().SetResetTokenTx(ctx, tx, user.ID, digest, expiresAt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store reset token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if err := h.sendResetMail(ctx, user, event.ResetURL, cleartext); err != nil {
		// Token is live in storage at this point. Clear it so a failed
		// delivery never leaves a usable token behind.
		if clearErr := h.repo.Users().ClearResetToken(ctx, user.ID); clearErr != nil {
			h.logger.Error("failed to clear reset token after mail failure", "error", clearErr)
		}

		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver password reset email").
			WithTextCode(TextCodeMailProvider)
	}

	h.recordActivity(ctx, user)

	resp.Email = user.Email
	resp.ExpiresAt = expiresAt
	resp.Success = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *InitializePasswordResetHandler) sendResetMail(ctx context.Context, user *User, resetURL, cleartext string) error {
	if h.mailer == nil {
		return goerrors.New("no mailer configured", goerrors.CategoryOperation)
	}

	link := fmt.Sprintf("%s/%s", resetURL, cleartext)
	body := fmt.Sprintf(
		`<p>Your password reset link is <a href="%s" target="_blank">here</a>.</p>
<p>The link is valid for %d minutes. If you did not request a reset you can ignore this email.</p>`,
		link, int(h.tokenTTL.Minutes()),
	)

	return h.mailer.Send(ctx, user.Email, "Password reset", body)
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset request: %v", err)
	}
}
