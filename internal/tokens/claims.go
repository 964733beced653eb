package tokens

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/models"
)

// AccessClaims is the claim set on issued access tokens. Owner and key
// subjects share the shape; key subjects additionally carry the key type
// and permission list so resource servers can authorize without a key
// lookup.
type AccessClaims struct {
	SubjectType string   `json:"subject_type"`
	KeyType     string   `json:"key_type,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (e *Engine) issueAccessToken(subjectType string, subjectID uuid.UUID, key *models.Key) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(e.cfg.AccessTTL)

	claims := AccessClaims{
		SubjectType: subjectType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.cfg.Issuer,
			Subject:   models.HexID(subjectID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        uuid.NewString(),
		},
	}
	if key != nil {
		claims.KeyType = key.Type
		claims.Permissions = append([]string(nil), key.Permissions...)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.cfg.SigningSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, expiry, nil
}

// VerifyAccessToken parses and validates an access token issued by this
// engine and returns its claims. Any parse, signature or expiry failure
// is reported as ErrInvalidCredential.
func (e *Engine) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return e.cfg.SigningSecret, nil
	}, jwt.WithIssuer(e.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		log.Debug().Err(err).Msg("Access token verification failed")
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
