package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags the content type a stream token is bound to. Redeeming a token
// against content of a different kind is rejected the same way as a wrong id.
type Kind string

const (
	KindChannel Kind = "channel"
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// ContentRef identifies a single playable item.
type ContentRef struct {
	Kind Kind
	ID   string
}

var (
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")
)

// Payload is the decoded body of a stream token.
type Payload struct {
	ContentID string `json:"contentId"`
	Kind      Kind   `json:"kind"`
	ViewerID  string `json:"viewerId,omitempty"`
	Exp       int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// Ref returns the content binding of the payload.
func (p Payload) Ref() ContentRef {
	return ContentRef{Kind: p.Kind, ID: p.ContentID}
}

// Codec generates and verifies signed stream access tokens. Tokens are
// stateless: base64url(JSON payload) + "." + base64url(HMAC-SHA256 over the
// encoded payload). The secret is fixed at construction and never mutated.
type Codec struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCodec builds a codec with the given signing secret and default TTL.
func NewCodec(secret string, defaultTTL time.Duration) *Codec {
	return &Codec{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// DefaultTTL is the configured lifetime callers use when no explicit TTL
// applies to a request.
func (c *Codec) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Generate creates a token for ref, optionally bound to a viewer, expiring
// after ttl. A non-positive ttl yields a token that is already expired.
func (c *Codec) Generate(ref ContentRef, viewerID string, ttl time.Duration) (string, error) {
	payload := Payload{
		ContentID: ref.ID,
		Kind:      ref.Kind,
		ViewerID:  viewerID,
		Exp:       c.now().Add(ttl).Unix(),
		Nonce:     uuid.NewString(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks a token's signature and expiry and returns its payload.
// Expected failures come back as ErrMalformed, ErrBadSignature or ErrExpired.
func (c *Codec) Verify(tok string) (Payload, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Payload{}, ErrMalformed
	}
	if !hmac.Equal([]byte(c.sign(parts[0])), []byte(parts[1])) {
		return Payload{}, ErrBadSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, ErrMalformed
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, ErrMalformed
	}
	if payload.Exp <= c.now().Unix() {
		return Payload{}, ErrExpired
	}
	return payload, nil
}

// ProtectedURL appends a fresh token for ref to originURL as the token query
// parameter, joining with ? or & depending on an existing query string.
func (c *Codec) ProtectedURL(originURL string, ref ContentRef, viewerID string, ttl time.Duration) (string, error) {
	tok, err := c.Generate(ref, viewerID, ttl)
	if err != nil {
		return "", err
	}
	sep := "?"
	if strings.Contains(originURL, "?") {
		sep = "&"
	}
	return originURL + sep + "token=" + tok, nil
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
