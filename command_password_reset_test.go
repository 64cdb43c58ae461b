package membership_test

import (
	"context"
	"strings"
	"testing"
	"time"

	membership "github.com/goliatone/go-membership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resetURL = "https://example.com/password-reset"

// mailedResetToken pulls the cleartext token out of the delivered reset link.
func mailedResetToken(t *testing.T, mailer *fakeMailer) string {
	t.Helper()

	require.NotEmpty(t, mailer.sent)
	body := mailer.sent[len(mailer.sent)-1].body

	idx := strings.Index(body, resetURL+"/")
	require.GreaterOrEqual(t, idx, 0)

	start := idx + len(resetURL) + 1
	return body[start : start+40]
}

func TestInitializePasswordReset(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	mailer := &fakeMailer{}
	sink := &recordingSink{}
	handler := membership.NewInitializePasswordResetHandler(repo, mailer).WithActivitySink(sink)

	var resp *membership.InitializePasswordResetResponse
	err := handler.Execute(context.Background(), membership.InitializePasswordResetMessage{
		Email:      "pepe.rone@example.com",
		ResetURL:   resetURL,
		OnResponse: func(r *membership.InitializePasswordResetResponse) { resp = r },
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.WithinDuration(t, time.Now().Add(membership.ResetTokenTTL), resp.ExpiresAt, 5*time.Second)

	cleartext := mailedResetToken(t, mailer)
	assert.Len(t, cleartext, 40)

	stored := repo.users.get(user.ID)
	require.NotNil(t, stored.ResetTokenExpires)

	// Only the digest is persisted, never the cleartext.
	assert.Equal(t, membership.HashResetToken(cleartext), stored.ResetTokenHash)
	assert.NotContains(t, mailer.sent[0].body, stored.ResetTokenHash)

	assert.Contains(t, sink.eventTypes(), membership.ActivityEventPasswordResetRequested)
}

func TestInitializePasswordResetUnknownEmail(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	handler := membership.NewInitializePasswordResetHandler(repo, mailer)

	err := handler.Execute(context.Background(), membership.InitializePasswordResetMessage{
		Email:    "ghost@example.com",
		ResetURL: resetURL,
	})
	assert.ErrorIs(t, err, membership.ErrIdentityNotFound)
	assert.Empty(t, mailer.sent)
}

func TestInitializePasswordResetMailFailureClearsToken(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	mailer := &fakeMailer{sendErr: assert.AnError}
	handler := membership.NewInitializePasswordResetHandler(repo, mailer)

	err := handler.Execute(context.Background(), membership.InitializePasswordResetMessage{
		Email:    "pepe.rone@example.com",
		ResetURL: resetURL,
	})
	require.Error(t, err)
	assert.Equal(t, membership.TextCodeMailProvider, membership.TextCode(err))

	// The committed token must not survive a failed delivery.
	stored := repo.users.get(user.ID)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpires)
}

func TestFinalizePasswordReset(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	mailer := &fakeMailer{}
	init := membership.NewInitializePasswordResetHandler(repo, mailer)
	require.NoError(t, init.Execute(context.Background(), membership.InitializePasswordResetMessage{
		Email:    "pepe.rone@example.com",
		ResetURL: resetURL,
	}))

	cleartext := mailedResetToken(t, mailer)

	sink := &recordingSink{}
	finalize := membership.NewFinalizePasswordResetHandler(repo).WithActivitySink(sink)

	err := finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Token:    cleartext,
		Password: "brand-new-secret",
	})
	require.NoError(t, err)

	stored := repo.users.get(user.ID)
	assert.NoError(t, membership.ComparePasswordAndHash("brand-new-secret", stored.PasswordHash))
	assert.Empty(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpires)

	assert.Contains(t, sink.eventTypes(), membership.ActivityEventPasswordResetSuccess)
}

func TestFinalizePasswordResetSingleUse(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	mailer := &fakeMailer{}
	init := membership.NewInitializePasswordResetHandler(repo, mailer)
	require.NoError(t, init.Execute(context.Background(), membership.InitializePasswordResetMessage{
		Email:    "pepe.rone@example.com",
		ResetURL: resetURL,
	}))

	cleartext := mailedResetToken(t, mailer)
	finalize := membership.NewFinalizePasswordResetHandler(repo)

	require.NoError(t, finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Token:    cleartext,
		Password: "first-new-secret",
	}))

	// Replaying the same link fails and leaves the first change in place.
	err := finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Token:    cleartext,
		Password: "second-new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrResetTokenInvalid)
}

func TestFinalizePasswordResetExpiredToken(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	cleartext, digest, err := membership.GenerateResetToken()
	require.NoError(t, err)

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, repo.users.SetResetToken(context.Background(), user.ID, digest, expired))

	finalize := membership.NewFinalizePasswordResetHandler(repo)

	err = finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Token:    cleartext,
		Password: "new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrResetTokenInvalid)

	stored := repo.users.get(user.ID)
	assert.NoError(t, membership.ComparePasswordAndHash("old-secret", stored.PasswordHash))
}

func TestFinalizePasswordResetExpiryBoundary(t *testing.T) {
	cases := []struct {
		name      string
		expiresIn time.Duration
		wantErr   bool
	}{
		{"just inside the window", time.Minute, false},
		{"just past the window", -time.Second, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

			cleartext, digest, err := membership.GenerateResetToken()
			require.NoError(t, err)
			require.NoError(t, repo.users.SetResetToken(context.Background(), user.ID, digest, time.Now().Add(tc.expiresIn)))

			err = membership.NewFinalizePasswordResetHandler(repo).Execute(context.Background(), membership.FinalizePasswordResetMessage{
				Token:    cleartext,
				Password: "new-secret",
			})

			if tc.wantErr {
				assert.ErrorIs(t, err, membership.ErrResetTokenInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFinalizePasswordResetWrongToken(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	_, digest, err := membership.GenerateResetToken()
	require.NoError(t, err)
	require.NoError(t, repo.users.SetResetToken(context.Background(), user.ID, digest, time.Now().Add(15*time.Minute)))

	finalize := membership.NewFinalizePasswordResetHandler(repo)

	err = finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Token:    "0000000000000000000000000000000000000000",
		Password: "new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrResetTokenInvalid)
}

func TestFinalizePasswordResetEmptyToken(t *testing.T) {
	finalize := membership.NewFinalizePasswordResetHandler(newFakeRepo())

	err := finalize.Execute(context.Background(), membership.FinalizePasswordResetMessage{
		Password: "new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrResetTokenInvalid)
}
