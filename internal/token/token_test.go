package token

import (
    "context"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/go-redis/redis/v8"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/hamzaKhattat/contact-center-api/internal/kv"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
    t.Helper()

    mr := miniredis.RunT(t)
    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    kvStore := kv.NewWithClient(client, "test")
    t.Cleanup(func() { kvStore.Close() })

    svc := NewService(Config{
        Secret:     "0123456789abcdef0123456789abcdef",
        AccessTTL:  30 * time.Minute,
        RefreshTTL: 7 * 24 * time.Hour,
        Issuer:     "contact-center-api",
        Audience:   "contact-center-api",
    }, kvStore)

    return svc, mr
}

func TestIssueAndVerifyPair(t *testing.T) {
    svc, _ := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)
    assert.NotEmpty(t, pair.AccessToken)
    assert.NotEmpty(t, pair.RefreshToken)
    assert.Equal(t, 1800, pair.ExpiresIn)

    claims, err := svc.Verify(ctx, pair.AccessToken, TypeAccess)
    require.NoError(t, err)
    assert.Equal(t, "alice", claims.Subject)
    assert.NotEmpty(t, claims.ID)

    refreshClaims, err := svc.Verify(ctx, pair.RefreshToken, TypeRefresh)
    require.NoError(t, err)
    assert.NotEqual(t, claims.ID, refreshClaims.ID, "access and refresh carry distinct jti")
}

func TestTokenTypeIsolation(t *testing.T) {
    svc, _ := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)

    _, err = svc.Verify(ctx, pair.AccessToken, TypeRefresh)
    assert.Error(t, err, "access token must not verify as refresh")

    _, err = svc.Verify(ctx, pair.RefreshToken, TypeAccess)
    assert.Error(t, err, "refresh token must not verify as access")
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
    svc, mr := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)

    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    other := NewService(Config{
        Secret:   "ffffffffffffffffffffffffffffffff",
        Issuer:   "contact-center-api",
        Audience: "contact-center-api",
    }, kv.NewWithClient(client, "test"))

    _, err = other.Verify(ctx, pair.AccessToken, TypeAccess)
    assert.Error(t, err)
}

func TestVerifyRejectsForeignIssuerAndAudience(t *testing.T) {
    svc, mr := newTestService(t)
    ctx := context.Background()

    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    foreign := NewService(Config{
        Secret:   "0123456789abcdef0123456789abcdef",
        Issuer:   "some-other-service",
        Audience: "some-other-service",
    }, kv.NewWithClient(client, "test"))

    pair, err := foreign.IssuePair("alice")
    require.NoError(t, err)

    // Same secret, wrong issuer and audience
    _, err = svc.Verify(ctx, pair.AccessToken, TypeAccess)
    assert.Error(t, err)
}

func TestRevokeBlacklistsToken(t *testing.T) {
    svc, _ := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)

    _, err = svc.Verify(ctx, pair.AccessToken, TypeAccess)
    require.NoError(t, err)

    require.NoError(t, svc.Revoke(ctx, pair.AccessToken, TypeAccess))

    _, err = svc.Verify(ctx, pair.AccessToken, TypeAccess)
    assert.Error(t, err, "revoked token fails verification")
}

func TestRefreshRotation(t *testing.T) {
    svc, _ := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)

    fresh, err := svc.Refresh(ctx, pair.RefreshToken)
    require.NoError(t, err)
    assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

    claims, err := svc.Verify(ctx, fresh.AccessToken, TypeAccess)
    require.NoError(t, err)
    assert.Equal(t, "alice", claims.Subject)

    // The consumed refresh token is blacklisted and cannot be replayed
    _, err = svc.Refresh(ctx, pair.RefreshToken)
    assert.Error(t, err)
}

func TestBlacklistFailsClosed(t *testing.T) {
    svc, mr := newTestService(t)
    ctx := context.Background()

    pair, err := svc.IssuePair("alice")
    require.NoError(t, err)

    mr.Close()

    _, err = svc.Verify(ctx, pair.AccessToken, TypeAccess)
    assert.Error(t, err, "unreachable blacklist rejects the token")
}
