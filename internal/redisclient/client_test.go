package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	// Requires a running Redis
	t.Skip("Integration test - requires redis")

	client, err := NewClient("localhost:6379", "", 15)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	sess := models.NewSession(uuid.New().String(), time.Now().UTC())
	require.NoError(t, client.SaveSession(ctx, sess, time.Minute))

	updated, err := client.UpdateSession(ctx, sess.ID, time.Minute, func(s *models.Session) error {
		s.Checkout.Phase = models.CheckoutPhaseSubmitting
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutPhaseSubmitting, updated.Checkout.Phase)

	require.NoError(t, client.DeleteSession(ctx, sess.ID))
	_, err = client.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLockOwnership(t *testing.T) {
	t.Skip("Integration test - requires redis")

	client, err := NewClient("localhost:6379", "", 15)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	name := "checkout:" + uuid.New().String()

	lock, err := client.AcquireLock(ctx, name, time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	other, err := client.AcquireLock(ctx, name, time.Second)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, client.RefreshLock(ctx, lock, time.Second))

	stranger := &Lock{Key: lock.Key, Owner: "someone-else"}
	assert.ErrorIs(t, client.ReleaseLock(ctx, stranger), ErrLockNotHeld)

	require.NoError(t, client.ReleaseLock(ctx, lock))
	assert.ErrorIs(t, client.RefreshLock(ctx, lock, time.Second), ErrLockNotHeld)
}
