package token

import (
    "context"
    "time"

    "github.com/golang-jwt/jwt/v4"
    "github.com/google/uuid"

    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

const (
    TypeAccess  = "access"
    TypeRefresh = "refresh"
)

// Config holds the token service parameters.
type Config struct {
    Secret     string
    AccessTTL  time.Duration
    RefreshTTL time.Duration
    Issuer     string
    Audience   string
}

// Claims is the payload carried by both access and refresh tokens. TokenType
// separates the two families so a refresh token can never authenticate a
// request and vice versa.
type Claims struct {
    TokenType string `json:"type"`
    jwt.RegisteredClaims
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
    AccessToken  string
    RefreshToken string
    ExpiresIn    int
}

// Service issues, verifies, revokes and rotates JWTs. Revocation is a jti
// blacklist in the KV store with TTL equal to the token's remaining lifetime.
type Service struct {
    config Config
    kv     *kv.Store
}

func NewService(config Config, store *kv.Store) *Service {
    if config.AccessTTL == 0 {
        config.AccessTTL = 30 * time.Minute
    }
    if config.RefreshTTL == 0 {
        config.RefreshTTL = 7 * 24 * time.Hour
    }
    return &Service{config: config, kv: store}
}

// IssuePair creates a new access/refresh pair for the subject.
func (s *Service) IssuePair(username string) (*Pair, error) {
    access, err := s.sign(username, TypeAccess, s.config.AccessTTL)
    if err != nil {
        return nil, err
    }
    refresh, err := s.sign(username, TypeRefresh, s.config.RefreshTTL)
    if err != nil {
        return nil, err
    }
    return &Pair{
        AccessToken:  access,
        RefreshToken: refresh,
        ExpiresIn:    int(s.config.AccessTTL.Seconds()),
    }, nil
}

func (s *Service) sign(username, tokenType string, ttl time.Duration) (string, error) {
    now := time.Now()
    claims := Claims{
        TokenType: tokenType,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   username,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
            ID:        uuid.NewString(),
            Issuer:    s.config.Issuer,
            Audience:  jwt.ClaimStrings{s.config.Audience},
        },
    }

    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
    if err != nil {
        return "", errors.Wrap(err, errors.ErrInternal, "failed to sign token")
    }
    return signed, nil
}

// Verify validates signature, expiry, type, issuer/audience and the revocation
// blacklist. The blacklist check fails closed: if the KV store cannot be
// reached, the token is rejected.
func (s *Service) Verify(ctx context.Context, tokenString, expectedType string) (*Claims, error) {
    claims := &Claims{}
    parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, jwt.ErrSignatureInvalid
        }
        return []byte(s.config.Secret), nil
    })
    if err != nil || !parsed.Valid {
        return nil, errors.Wrap(err, errors.ErrTokenInvalid, "invalid or expired token")
    }

    if !claims.VerifyIssuer(s.config.Issuer, s.config.Issuer != "") {
        return nil, errors.New(errors.ErrTokenInvalid, "invalid token issuer")
    }
    if !claims.VerifyAudience(s.config.Audience, s.config.Audience != "") {
        return nil, errors.New(errors.ErrTokenInvalid, "invalid token audience")
    }
    if claims.TokenType != expectedType {
        return nil, errors.New(errors.ErrTokenInvalid, "invalid token type")
    }
    if claims.Subject == "" || claims.ID == "" {
        return nil, errors.New(errors.ErrTokenInvalid, "invalid token claims")
    }

    revoked, err := s.kv.Exists(ctx, blacklistKey(claims.ID))
    if err != nil {
        logger.WithError(err).Error("Token blacklist check failed")
        return nil, errors.Wrap(err, errors.ErrTokenRevoked, "token revocation check unavailable")
    }
    if revoked {
        return nil, errors.New(errors.ErrTokenRevoked, "token has been revoked")
    }

    return claims, nil
}

// Revoke blacklists the token's jti for its remaining lifetime. The token must
// still be valid; revoking an expired token is a no-op error.
func (s *Service) Revoke(ctx context.Context, tokenString, expectedType string) error {
    claims, err := s.Verify(ctx, tokenString, expectedType)
    if err != nil {
        return err
    }
    return s.blacklist(ctx, claims)
}

// Refresh rotates a refresh token: the old token is blacklisted and a new
// pair is issued. A replayed refresh token therefore fails verification.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
    claims, err := s.Verify(ctx, refreshToken, TypeRefresh)
    if err != nil {
        return nil, err
    }

    if err := s.blacklist(ctx, claims); err != nil {
        return nil, err
    }

    logger.WithField("username", claims.Subject).Info("Refresh token rotated")
    return s.IssuePair(claims.Subject)
}

func (s *Service) blacklist(ctx context.Context, claims *Claims) error {
    remaining := time.Until(claims.ExpiresAt.Time)
    if remaining <= 0 {
        return nil
    }
    if err := s.kv.SetWithTTL(ctx, blacklistKey(claims.ID), "1", remaining); err != nil {
        return errors.Wrap(err, errors.ErrRedis, "failed to blacklist token")
    }
    return nil
}

func blacklistKey(jti string) string {
    return "token:blacklist:" + jti
}
