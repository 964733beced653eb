// Package secrets holds the one-way hashing and credential generation
// primitives shared by the key and token engines. Plaintext secrets exist
// only in transit: stores only ever see argon2id hashes, plus a
// deterministic sha256 lookup digest for refresh tokens (used to locate a
// row, never to authenticate it).
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/argon2"
)

// Hasher is a memory-hard one-way hash for secret material.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
}

// Argon2id parameters. Matches the interactive-login profile from the
// argon2 RFC recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Argon2Hasher implements Hasher using argon2id with a random per-hash salt.
type Argon2Hasher struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// NewArgon2Hasher creates a hasher with the default parameters.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		time:    argonTime,
		memory:  argonMemory,
		threads: argonThreads,
		keyLen:  argonKeyLen,
	}
}

// Hash derives an argon2id digest of the plaintext under a fresh random
// salt and returns it in the standard $argon2id$ encoded form.
func (h *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(plaintext), salt, h.time, h.memory, h.threads, h.keyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
	return encoded, nil
}

// Verify re-derives the digest of plaintext under the parameters and salt
// recorded in encoded, and compares in constant time.
func (h *Argon2Hasher) Verify(plaintext, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(plaintext), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// LookupHash computes the deterministic digest used to locate a refresh
// token row. It is a plain sha256 over the plaintext, hex encoded; it must
// never be used on its own to authenticate the token.
func LookupHash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// NewKeySecret generates a fresh key secret: "ak_" plus 32 random bytes in
// base58.
func NewKeySecret() (string, error) {
	return newToken("ak_")
}

// NewRefreshToken generates a fresh refresh token plaintext: "art_" plus
// 32 random bytes in base58.
func NewRefreshToken() (string, error) {
	return newToken("art_")
}

// NewPublicID generates a key public identifier: "apub_" plus a random
// 128-bit value in lowercase hex. Public ids are used only for credential
// exchange, never for authorization lookups.
func NewPublicID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate public id: %w", err)
	}
	return "apub_" + hex.EncodeToString(raw), nil
}

func newToken(prefix string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return prefix + base58.Encode(raw), nil
}

// DeviceFingerprint derives the soft device identifier used for use-key
// device limits from the caller's IP and user agent. This is a deterrent,
// not a device-identity guarantee.
func DeviceFingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "\x00" + userAgent))
	return hex.EncodeToString(sum[:16])
}
