package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	dErrors "kosherdir/pkg/domain-errors"
)

// Validation failures. All map to 403 so callers cannot distinguish a forged
// signature from an expired one.
var (
	ErrMalformed       = dErrors.New(dErrors.CodeForbidden, "csrf token malformed")
	ErrBadSignature    = dErrors.New(dErrors.CodeForbidden, "csrf token signature mismatch")
	ErrExpired         = dErrors.New(dErrors.CodeForbidden, "csrf token expired")
	ErrSubjectMismatch = dErrors.New(dErrors.CodeForbidden, "csrf token subject mismatch")
)

// Service issues and validates signed double-submit tokens. Tokens are
// stateless: validity is fully recomputable from the token fields and the
// signing key, so no server-side session store is needed and validation is
// safe under horizontal scaling.
//
// Token wire format: b64(subject).issuedAtUnix.expiresAtUnix.b64(signature)
// with signature = HMAC-SHA256(key, subject '\n' issuedAt '\n' expiresAt).
type Service struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// New derives the HMAC key from the server secret via HKDF-SHA256 so the raw
// secret is never used directly as a MAC key, then returns a ready service.
// The TTL is fixed at issuance; tokens cannot extend themselves.
func New(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "csrf secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("kosherdir/csrf/v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "derive csrf key", err)
	}

	return &Service{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue creates a token bound to the given subject.
func (s *Service) Issue(subject string) string {
	issuedAt := s.now().Unix()
	expiresAt := s.now().Add(s.ttl).Unix()
	sig := s.sign(subject, issuedAt, expiresAt)

	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(subject)) + "." +
		strconv.FormatInt(issuedAt, 10) + "." +
		strconv.FormatInt(expiresAt, 10) + "." +
		enc.EncodeToString(sig)
}

// Validate checks signature, expiry, and subject binding. The token's bound
// subject must equal the authenticated caller so a token cannot be replayed
// by a different actor.
func (s *Service) Validate(token, expectedSubject string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return ErrMalformed
	}

	enc := base64.RawURLEncoding
	subjectRaw, err := enc.DecodeString(parts[0])
	if err != nil {
		return ErrMalformed
	}
	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrMalformed
	}
	expiresAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ErrMalformed
	}
	sig, err := enc.DecodeString(parts[3])
	if err != nil {
		return ErrMalformed
	}

	subject := string(subjectRaw)
	expected := s.sign(subject, issuedAt, expiresAt)
	if !hmac.Equal(sig, expected) {
		return ErrBadSignature
	}
	if !s.now().Before(time.Unix(expiresAt, 0)) {
		return ErrExpired
	}
	if subject != expectedSubject {
		return ErrSubjectMismatch
	}
	return nil
}

func (s *Service) sign(subject string, issuedAt, expiresAt int64) []byte {
	mac := hmac.New(sha256.New, s.key)
	io.WriteString(mac, subject)
	mac.Write([]byte{'\n'})
	io.WriteString(mac, strconv.FormatInt(issuedAt, 10))
	mac.Write([]byte{'\n'})
	io.WriteString(mac, strconv.FormatInt(expiresAt, 10))
	return mac.Sum(nil)
}
