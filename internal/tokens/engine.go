// Package tokens implements the refresh-token rotation engine and the
// credential-exchange path that bootstraps a token chain from a key.
// Refresh tokens are strictly single use: redeeming one mints a successor
// and burns the old row in the same locked store operation, so a replayed
// token is always detectable and two concurrent redemptions can only have
// one winner.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/audit"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/secrets"
	"github.com/wolfeidau/keymint/internal/store"
)

// ErrInvalidCredential is the single external failure for the credential
// paths. Not-found, hash mismatch, expiry, revocation and replay are
// deliberately indistinguishable to callers; the distinction exists only
// in logs and audit. Do not split this into finer error codes.
var ErrInvalidCredential = errors.New("invalid credential")

// Errors for the use-key exchange limits. These are limit outcomes, not
// credential failures, so they are reported distinctly.
var (
	ErrUseLimitExceeded    = errors.New("use count limit exceeded")
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
)

// Internal failure reasons behind ErrInvalidCredential.
var (
	errHashMismatch    = errors.New("token hash mismatch")
	errTokenExpired    = errors.New("token expired")
	errTokenRevoked    = errors.New("token revoked")
	errTokenReplayed   = errors.New("token replayed")
	errSubjectInactive = errors.New("subject key inactive")
)

// Config holds signing and lifetime settings for issued tokens.
type Config struct {
	// SigningSecret is the HMAC secret for access-token JWTs. Must be at
	// least 32 bytes.
	SigningSecret []byte

	// Issuer is the iss claim on issued access tokens.
	Issuer string

	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of issued refresh tokens.
	RefreshTTL time.Duration
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.SigningSecret) < 32 {
		return fmt.Errorf("signing secret must be at least 32 bytes")
	}
	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "keymint"
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
}

// ClientInfo carries the caller metadata used for device fingerprinting.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// TokenPair is the result of a successful exchange or rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Engine drives refresh-token rotation and credential exchange.
type Engine struct {
	tokens  store.TokenStore
	keys    store.KeyStore
	hasher  secrets.Hasher
	auditor audit.Sink
	cfg     Config
}

// NewEngine creates a token engine. The config is validated and defaulted.
func NewEngine(tokens store.TokenStore, keys store.KeyStore, hasher secrets.Hasher, auditor audit.Sink, cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token config: %w", err)
	}
	return &Engine{
		tokens:  tokens,
		keys:    keys,
		hasher:  hasher,
		auditor: auditor,
		cfg:     cfg,
	}, nil
}

// Exchange authenticates a key by public id + secret and issues its first
// access+refresh pair. Use-count is consumed here, once per exchange, not
// per authenticated request; a long-lived access token from one exchange
// does not consume further uses.
func (e *Engine) Exchange(ctx context.Context, publicID, secret string, client ClientInfo) (*TokenPair, error) {
	key, err := e.keys.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			log.Debug().Str("public_id", publicID).Msg("Exchange for unknown public id")
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load key: %w", err)
	}

	if !e.hasher.Verify(secret, key.SecretHash) {
		log.Debug().Str("key_id", models.HexID(key.KeyID)).Msg("Exchange with wrong secret")
		return nil, ErrInvalidCredential
	}

	if !key.Active || key.IsRetired() {
		log.Debug().Str("key_id", models.HexID(key.KeyID)).Msg("Exchange against inactive key")
		return nil, ErrInvalidCredential
	}

	if key.DeviceLimit != nil {
		fingerprint := secrets.DeviceFingerprint(client.IP, client.UserAgent)
		devices, err := e.keys.RegisterDevice(ctx, key.KeyID, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("failed to register device: %w", err)
		}
		if devices > *key.DeviceLimit {
			return nil, ErrDeviceLimitExceeded
		}
	}

	if key.UseCountLimit != nil {
		uses, err := e.keys.IncrementUseCount(ctx, key.KeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to increment use count: %w", err)
		}
		if uses > *key.UseCountLimit {
			return nil, ErrUseLimitExceeded
		}
	}

	refresh, plaintext, err := e.mintRefresh(models.SubjectTypeKey, key.KeyID)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Insert(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	access, accessExpiry, err := e.issueAccessToken(models.SubjectTypeKey, key.KeyID, key)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     plaintext,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refresh.ExpiresAt,
	}

	return pair, e.emit(ctx, audit.Event{
		ActorType:   audit.ActorTypeKey,
		ActorID:     models.HexID(key.KeyID),
		Action:      "key:exchange",
		SubjectType: "refresh_token",
		SubjectID:   models.HexID(refresh.TokenID),
	})
}

// IssueOwnerPair issues an access+refresh pair directly for an owner.
// Used by the login layer after it has authenticated the owner.
func (e *Engine) IssueOwnerPair(ctx context.Context, ownerID uuid.UUID) (*TokenPair, error) {
	refresh, plaintext, err := e.mintRefresh(models.SubjectTypeOwner, ownerID)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Insert(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	access, accessExpiry, err := e.issueAccessToken(models.SubjectTypeOwner, ownerID, nil)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     plaintext,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refresh.ExpiresAt,
	}

	return pair, e.emit(ctx, audit.Event{
		ActorType:   audit.ActorTypeOwner,
		ActorID:     models.HexID(ownerID),
		Action:      "refresh_token:issued",
		SubjectType: "refresh_token",
		SubjectID:   models.HexID(refresh.TokenID),
	})
}

// Rotate redeems a refresh token for a new access+refresh pair. The store
// holds the row lock across the whole check-then-mark sequence, so a
// token can be redeemed at most once: the loser of a race observes the
// winner's rotated_at and is treated as a replay.
func (e *Engine) Rotate(ctx context.Context, presented string, client ClientInfo) (*TokenPair, error) {
	lookup := secrets.LookupHash(presented)

	var (
		replacement *models.RefreshToken
		plaintext   string
		subjectType string
		subjectID   uuid.UUID
		subjectKey  *models.Key
	)

	err := e.tokens.Rotate(ctx, lookup, func(current *models.RefreshToken) (*models.RefreshToken, error) {
		// The lookup hash only locates the row; the salted hash is what
		// authenticates the presented plaintext.
		if !e.hasher.Verify(presented, current.TokenHash) {
			return nil, errHashMismatch
		}

		now := time.Now()
		if current.IsExpired(now) {
			return nil, errTokenExpired
		}
		if current.IsRevoked() {
			return nil, errTokenRevoked
		}
		if current.IsRotated() {
			// This exact token was already redeemed. A replay is a
			// security event, logged loudly internally but externally
			// indistinguishable from any other invalid credential.
			e.emitReplay(ctx, current)
			return nil, errTokenReplayed
		}

		if current.SubjectType == models.SubjectTypeKey {
			key, err := e.keys.Get(ctx, current.SubjectID)
			if err != nil {
				return nil, fmt.Errorf("failed to load subject key: %w", err)
			}
			if !key.Active || key.IsRetired() {
				return nil, errSubjectInactive
			}
			subjectKey = key
		}

		next, plain, err := e.mintRefresh(current.SubjectType, current.SubjectID)
		if err != nil {
			return nil, err
		}

		replacement = next
		plaintext = plain
		subjectType = current.SubjectType
		subjectID = current.SubjectID
		return next, nil
	})
	if err != nil {
		return nil, e.rotateFailure(lookup, err)
	}

	access, accessExpiry, err := e.issueAccessToken(subjectType, subjectID, subjectKey)
	if err != nil {
		return nil, err
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     plaintext,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: replacement.ExpiresAt,
	}

	return pair, e.emit(ctx, audit.Event{
		ActorType:   actorTypeFor(subjectType),
		ActorID:     models.HexID(subjectID),
		Action:      "refresh_token:rotated",
		SubjectType: "refresh_token",
		SubjectID:   models.HexID(replacement.TokenID),
	})
}

// Revoke terminates a refresh token presented in plaintext. The token must
// still authenticate; failures are the usual generic invalid credential.
func (e *Engine) Revoke(ctx context.Context, presented string) error {
	lookup := secrets.LookupHash(presented)

	current, err := e.tokens.FindByLookupHash(ctx, lookup)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return ErrInvalidCredential
		}
		return fmt.Errorf("failed to locate token: %w", err)
	}

	if !e.hasher.Verify(presented, current.TokenHash) {
		return ErrInvalidCredential
	}

	if err := e.tokens.Revoke(ctx, current.TokenID); err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return ErrInvalidCredential
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return e.emit(ctx, audit.Event{
		ActorType:   actorTypeFor(current.SubjectType),
		ActorID:     models.HexID(current.SubjectID),
		Action:      "refresh_token:revoked",
		SubjectType: "refresh_token",
		SubjectID:   models.HexID(current.TokenID),
	})
}

// RevokeAllForSubject revokes every live refresh token for a subject,
// e.g. when a key is deactivated or an owner logs out everywhere.
func (e *Engine) RevokeAllForSubject(ctx context.Context, subjectType string, subjectID uuid.UUID) (int, error) {
	count, err := e.tokens.RevokeAllForSubject(ctx, subjectType, subjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	return count, e.emit(ctx, audit.Event{
		ActorType: actorTypeFor(subjectType),
		ActorID:   models.HexID(subjectID),
		Action:    "refresh_token:revoked_all",
		Metadata:  map[string]any{"count": count},
	})
}

// rotateFailure collapses every rotation failure into the generic
// external error while keeping the real reason in the logs.
func (e *Engine) rotateFailure(lookup string, err error) error {
	switch {
	case errors.Is(err, store.ErrTokenNotFound),
		errors.Is(err, errHashMismatch),
		errors.Is(err, errTokenExpired),
		errors.Is(err, errTokenRevoked),
		errors.Is(err, errSubjectInactive):
		log.Debug().Err(err).Str("lookup_hash", lookup).Msg("Refresh token rotation rejected")
		return ErrInvalidCredential
	case errors.Is(err, errTokenReplayed):
		log.Warn().Str("lookup_hash", lookup).Msg("Refresh token replay detected")
		return ErrInvalidCredential
	default:
		return fmt.Errorf("refresh token rotation failed: %w", err)
	}
}

func (e *Engine) emitReplay(ctx context.Context, token *models.RefreshToken) {
	event := audit.Event{
		ActorType:   actorTypeFor(token.SubjectType),
		ActorID:     models.HexID(token.SubjectID),
		Action:      "refresh_token:replay_detected",
		SubjectType: "refresh_token",
		SubjectID:   models.HexID(token.TokenID),
		Severity:    audit.SeverityHigh,
		CreatedAt:   time.Now(),
	}
	if token.ReplacedByID != nil {
		event.Metadata = map[string]any{"replaced_by": models.HexID(*token.ReplacedByID)}
	}
	if err := e.auditor.Emit(ctx, event); err != nil {
		// The replay still fails closed; losing the audit trail for it
		// is worth an error-level log.
		log.Error().Err(err).Msg("Failed to emit replay audit event")
	}
}

func (e *Engine) mintRefresh(subjectType string, subjectID uuid.UUID) (*models.RefreshToken, string, error) {
	tokenID, err := uuid.NewV7()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token id: %w", err)
	}

	plaintext, err := secrets.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}

	tokenHash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash refresh token: %w", err)
	}

	now := time.Now()
	return &models.RefreshToken{
		TokenID:     tokenID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		TokenHash:   tokenHash,
		LookupHash:  secrets.LookupHash(plaintext),
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.cfg.RefreshTTL),
	}, plaintext, nil
}

func (e *Engine) emit(ctx context.Context, event audit.Event) error {
	event.CreatedAt = time.Now()
	if err := e.auditor.Emit(ctx, event); err != nil {
		var emitErr *audit.EmitError
		if errors.As(err, &emitErr) {
			return emitErr
		}
		return &audit.EmitError{Action: event.Action, Err: err}
	}
	return nil
}

func actorTypeFor(subjectType string) audit.ActorType {
	if subjectType == models.SubjectTypeOwner {
		return audit.ActorTypeOwner
	}
	return audit.ActorTypeKey
}
