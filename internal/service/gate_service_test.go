package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/derive"
)

func newGateServiceFixture(t *testing.T) (*GateService, *fakeSessionStore) {
	t.Helper()

	sessions := newFakeSessionStore()
	return NewGateService(sessions, &fakeSink{}, nil, testConfig()), sessions
}

func TestAuthorizeGrantsOnDailyCode(t *testing.T) {
	svc, sessions := newGateServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	session, err := svc.Authorize(context.Background(), derive.DailyAccessCode(now), now)
	require.NoError(t, err)

	assert.True(t, session.Granted)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, now, session.GrantedAt)

	granted, err := sessions.Granted(context.Background(), session.Token)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestAuthorizeIsCaseInsensitive(t *testing.T) {
	svc, _ := newGateServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	session, err := svc.Authorize(context.Background(), "  12sene57 ", now)
	require.NoError(t, err)
	assert.True(t, session.Granted)
}

func TestAuthorizeDeniesWrongValue(t *testing.T) {
	svc, sessions := newGateServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	session, err := svc.Authorize(context.Background(), "12SENE99", now)
	require.NoError(t, err)

	assert.False(t, session.Granted)
	assert.Empty(t, session.Token)
	assert.Empty(t, sessions.grants)
}

func TestAuthorizeDeniesYesterdaysCode(t *testing.T) {
	svc, _ := newGateServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	session, err := svc.Authorize(context.Background(), derive.DailyAccessCode(now.AddDate(0, 0, -1)), now)
	require.NoError(t, err)
	assert.False(t, session.Granted)
}

func TestCheckAndRevoke(t *testing.T) {
	svc, _ := newGateServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	session, err := svc.Authorize(context.Background(), derive.DailyAccessCode(now), now)
	require.NoError(t, err)

	granted, err := svc.Check(context.Background(), session.Token)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, svc.Revoke(context.Background(), session.Token))

	granted, err = svc.Check(context.Background(), session.Token)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestCheckEmptyToken(t *testing.T) {
	svc, _ := newGateServiceFixture(t)

	granted, err := svc.Check(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, granted)
}
