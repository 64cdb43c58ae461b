package membership_test

import (
	"context"
	"testing"
	"time"

	membership "github.com/goliatone/go-membership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePassword(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	sink := &recordingSink{}
	handler := membership.NewChangePasswordHandler(repo).WithActivitySink(sink)

	err := handler.Execute(context.Background(), membership.ChangePasswordMessage{
		UserID:      user.ID.String(),
		OldPassword: "old-secret",
		NewPassword: "new-secret",
	})
	require.NoError(t, err)

	stored := repo.users.get(user.ID)
	assert.NoError(t, membership.ComparePasswordAndHash("new-secret", stored.PasswordHash))
	assert.ErrorIs(t, membership.ComparePasswordAndHash("old-secret", stored.PasswordHash), membership.ErrInvalidCredentials)

	assert.Contains(t, sink.eventTypes(), membership.ActivityEventPasswordChanged)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	handler := membership.NewChangePasswordHandler(repo)

	err := handler.Execute(context.Background(), membership.ChangePasswordMessage{
		UserID:      user.ID.String(),
		OldPassword: "not the old secret",
		NewPassword: "new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrInvalidCredentials)

	stored := repo.users.get(user.ID)
	assert.NoError(t, membership.ComparePasswordAndHash("old-secret", stored.PasswordHash))
}

func TestChangePasswordClearsPendingResetToken(t *testing.T) {
	repo := newFakeRepo()
	user := seedUser(t, repo.users, "pepe.rone@example.com", "old-secret")

	expires := time.Now().Add(10 * time.Minute)
	require.NoError(t, repo.users.SetResetToken(context.Background(), user.ID, membership.HashResetToken("stale"), expires))

	handler := membership.NewChangePasswordHandler(repo)

	err := handler.Execute(context.Background(), membership.ChangePasswordMessage{
		UserID:      user.ID.String(),
		OldPassword: "old-secret",
		NewPassword: "new-secret",
	})
	require.NoError(t, err)

	stored := repo.users.get(user.ID)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpires)
}

func TestChangePasswordUnknownUser(t *testing.T) {
	repo := newFakeRepo()
	handler := membership.NewChangePasswordHandler(repo)

	err := handler.Execute(context.Background(), membership.ChangePasswordMessage{
		UserID:      "b8fbd1f1-9a74-4dcd-bf42-35c563e38f4f",
		OldPassword: "old-secret",
		NewPassword: "new-secret",
	})
	assert.ErrorIs(t, err, membership.ErrIdentityNotFound)
}
