// Package auth mints and verifies the HS256 access tokens the API accepts.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// clockSkew is how far apart issuer and API clocks may drift.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// AccessTokenPayload is what the issuer knows about the caller.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	Role      enums.ActorRole
	CompanyID *uuid.UUID
	JTI       string
}

// AccessTokenClaims is the verified token body. CompanyID is set for company
// operators and for drivers employed by a carrier.
type AccessTokenClaims struct {
	UserID    uuid.UUID       `json:"user_id"`
	Role      enums.ActorRole `json:"role"`
	CompanyID *uuid.UUID      `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks during parsing.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("token has no user_id")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token carries unknown role %q", c.Role)
	}
	return nil
}

func signingKey(cfg config.JWTConfig) ([]byte, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return []byte(cfg.Secret), nil
}

// MintAccessToken signs a token for payload that expires after the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return "", err
	}
	ttl := cfg.AccessTokenTTL()
	switch {
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case ttl <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	case payload.UserID == uuid.Nil:
		return "", errors.New("user id is required")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid actor role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID:    payload.UserID,
		Role:      payload.Role,
		CompanyID: payload.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry and returns the claims.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, err
	}
	return claims, nil
}

// BearerToken pulls the token out of an Authorization header value. The
// scheme is optional and case-insensitive.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if scheme, rest, _ := strings.Cut(header, " "); strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}
