package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/pkg/errors"
	"callcore/pkg/jwt"
)

type fakeDirectory struct {
	profiles map[uuid.UUID]Profile
	calls    int
	fail     bool
}

func (d *fakeDirectory) Profile(_ context.Context, userID uuid.UUID) (Profile, bool, error) {
	d.calls++
	if d.fail {
		return Profile{}, false, errors.DatabaseError(nil)
	}
	p, ok := d.profiles[userID]
	return p, ok, nil
}

func newProvider(t *testing.T, directory Directory) (*Provider, uuid.UUID) {
	t.Helper()
	manager := jwt.NewManager("test-secret-test-secret-test-secret", time.Hour)
	selfID := uuid.New()
	token, err := manager.Generate(selfID, "Self", "")
	require.NoError(t, err)

	provider, err := NewProvider(manager, token, directory, nil)
	require.NoError(t, err)
	return provider, selfID
}

func TestProviderRejectsBadToken(t *testing.T) {
	manager := jwt.NewManager("test-secret-test-secret-test-secret", time.Hour)
	_, err := NewProvider(manager, "not-a-token", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidToken))
}

func TestSelfComesFromClaims(t *testing.T) {
	provider, selfID := newProvider(t, nil)
	assert.Equal(t, selfID, provider.SelfID())
	assert.Equal(t, "Self", provider.Self().DisplayName)
}

func TestDisplayNameResolvesAndCaches(t *testing.T) {
	peerID := uuid.New()
	dir := &fakeDirectory{profiles: map[uuid.UUID]Profile{
		peerID: {UserID: peerID, DisplayName: "Alice"},
	}}
	provider, _ := newProvider(t, dir)

	assert.Equal(t, "Alice", provider.DisplayName(context.Background(), peerID))
	assert.Equal(t, "Alice", provider.DisplayName(context.Background(), peerID))
	assert.Equal(t, 1, dir.calls)
}

func TestDisplayNameFallsBackToShortID(t *testing.T) {
	peerID := uuid.New()

	t.Run("no directory", func(t *testing.T) {
		provider, _ := newProvider(t, nil)
		assert.Equal(t, peerID.String()[:8], provider.DisplayName(context.Background(), peerID))
	})

	t.Run("directory miss", func(t *testing.T) {
		provider, _ := newProvider(t, &fakeDirectory{})
		assert.Equal(t, peerID.String()[:8], provider.DisplayName(context.Background(), peerID))
	})

	t.Run("directory error", func(t *testing.T) {
		provider, _ := newProvider(t, &fakeDirectory{fail: true})
		assert.Equal(t, peerID.String()[:8], provider.DisplayName(context.Background(), peerID))
	})
}

func TestOwnNameNeverHitsDirectory(t *testing.T) {
	dir := &fakeDirectory{}
	provider, selfID := newProvider(t, dir)

	assert.Equal(t, "Self", provider.DisplayName(context.Background(), selfID))
	assert.Zero(t, dir.calls)
}
