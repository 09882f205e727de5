// Package auth verifies signed media tokens and replay-protected signed
// messages against the Ed25519 key advertised by the service registry.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hiccup-im/media-signal/internal/domain"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrAlgorithmMismatch = errors.New("unexpected signature algorithm")
	ErrBadSignature      = errors.New("signature verification failed")
	ErrTenantMismatch    = errors.New("token issued for another service")
	ErrNonceMissing      = errors.New("nonce missing")
	ErrNonceReplayed     = errors.New("nonce already consumed")
	ErrTimestampInvalid  = errors.New("timestamp missing or invalid")
	ErrTimestampSkew     = errors.New("timestamp outside tolerance")
	ErrKeyUnavailable    = errors.New("verification key unavailable")
)

const signAlgorithm = "EdDSA"

// canonicalSeparator joins the sorted name:value pairs of a signed message.
const canonicalSeparator = ","

type Authenticator struct {
	keys      *KeySource
	nonces    *NonceCache
	serviceID string
	tolerance time.Duration
	keyWait   time.Duration
	now       func() time.Time
}

func NewAuthenticator(keys *KeySource, nonces *NonceCache, serviceID string, tolerance, keyWait time.Duration) *Authenticator {
	return &Authenticator{
		keys:      keys,
		nonces:    nonces,
		serviceID: serviceID,
		tolerance: tolerance,
		keyWait:   keyWait,
		now:       time.Now,
	}
}

type tokenHeader struct {
	Alg string `json:"alg"`
}

// VerifyToken checks a three-part EdDSA token and returns its claims. Every
// failure maps to a sentinel error; malformed input never panics. The token's
// nonce is consumed on success, so a second verification of the same token
// fails with ErrNonceReplayed.
func (a *Authenticator) VerifyToken(ctx context.Context, token string) (*domain.TokenClaims, error) {
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrMalformedToken
	}
	payloadB64, sigB64, found := strings.Cut(rest, ".")
	if !found || strings.Contains(sigB64, ".") {
		return nil, ErrMalformedToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var hdr tokenHeader
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return nil, ErrMalformedToken
	}
	if hdr.Alg != signAlgorithm {
		return nil, ErrAlgorithmMismatch
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, ErrMalformedToken
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var claims domain.TokenClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	key, err := a.key(ctx)
	if err != nil {
		return nil, err
	}
	// The signature covers the literal encoded header+payload bytes.
	signed := []byte(headerB64 + "." + payloadB64)
	if !ed25519.Verify(key, signed, sig) {
		return nil, ErrBadSignature
	}

	if claims.ServiceID != a.serviceID {
		return nil, ErrTenantMismatch
	}
	if claims.Nonce == "" {
		return nil, ErrNonceMissing
	}
	if a.nonces.Used(claims.Nonce) {
		return nil, ErrNonceReplayed
	}
	a.nonces.Mark(claims.Nonce)
	return &claims, nil
}

// VerifyMessage checks a detached signature over an unordered field map.
// The canonical form sorts field names lexicographically and joins
// "name:value" pairs with commas. Mandatory fields: nonce and timestamp
// (unix seconds). The nonce is consumed before the signature check, matching
// the replay-window contract: a message that reaches the nonce check burns
// its nonce.
func (a *Authenticator) VerifyMessage(ctx context.Context, fields map[string]string, signature string) error {
	nonce, ok := fields["nonce"]
	if !ok || nonce == "" {
		return ErrNonceMissing
	}
	rawTS, ok := fields["timestamp"]
	if !ok {
		return ErrTimestampInvalid
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}

	if a.nonces.Used(nonce) {
		return ErrNonceReplayed
	}
	if d := a.now().Sub(time.Unix(ts, 0)); d > a.tolerance || d < -a.tolerance {
		return ErrTimestampSkew
	}
	a.nonces.Mark(nonce)

	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	key, err := a.key(ctx)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, []byte(CanonicalMessage(fields)), sig) {
		return ErrBadSignature
	}
	return nil
}

// CanonicalMessage builds the string a signed message's signature covers.
func CanonicalMessage(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+":"+fields[name])
	}
	return strings.Join(pairs, canonicalSeparator)
}

// key waits a bounded time for the late-bound verification key. Verification
// attempted before the key is available fails closed.
func (a *Authenticator) key(ctx context.Context) (ed25519.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, a.keyWait)
	defer cancel()
	key, err := a.keys.Get(ctx)
	if err != nil {
		return nil, ErrKeyUnavailable
	}
	return key, nil
}
