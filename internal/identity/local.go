package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// LocalIssuer mints identities and self-signed tokens in process. It exists
// so the service runs end-to-end in development without an identity gateway;
// the tokens it signs are only honored by the local chat backend.
type LocalIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewLocalIssuer derives a signing key from secret and issues tokens with
// the given lifetime.
func NewLocalIssuer(secret string, ttl time.Duration) (*LocalIssuer, error) {
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("gatehouse access tokens"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &LocalIssuer{signingKey: key, ttl: ttl}, nil
}

func (i *LocalIssuer) CreateIdentity(ctx context.Context) (UserToken, error) {
	userID := "8:gh:" + uuid.NewString()
	token, err := i.IssueToken(ctx, userID)
	if err != nil {
		return UserToken{}, err
	}
	return UserToken{UserID: userID, AccessToken: token}, nil
}

func (i *LocalIssuer) IssueToken(ctx context.Context, userID string) (AccessToken, error) {
	if userID == "" {
		return AccessToken{}, fmt.Errorf("issue token: empty identity")
	}
	expiresOn := time.Now().Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresOn),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Token: token, ExpiresOn: expiresOn}, nil
}

// Verify parses a locally issued token and returns the identity it was
// minted for. Used by the local chat backend to scope its calls.
func (i *LocalIssuer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, nil
}
