package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"strategyexecutor/internal/model"
)

// TokenKind distinguishes access from refresh tokens so a refresh
// token can never be accepted by the bearer-auth middleware.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Issuer signs and verifies the opaque bearer tokens returned by
// /auth/register and /auth/login. The token is
// base64url(userID|kind|expiryUnix) + "." + base64url(hmac-sha256 of
// that payload) — stateless, no session table lookup required on
// every request.
type Issuer struct {
	key []byte
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.SigningKeyB64)
	if err != nil {
		return nil, fmt.Errorf("auth: decode signing key: %w", err)
	}
	if len(key) < 16 {
		return nil, fmt.Errorf("auth: signing key too short, want >=16 bytes, got %d", len(key))
	}
	return &Issuer{key: key, cfg: cfg, now: time.Now}, nil
}

// Pair is the {access_token, refresh_token} returned on register/login.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Issue mints a fresh access/refresh token pair for userID.
func (i *Issuer) Issue(userID model.ID) Pair {
	now := i.now()
	return Pair{
		AccessToken:  i.sign(userID, KindAccess, now.Add(i.cfg.AccessTokenTTL)),
		RefreshToken: i.sign(userID, KindRefresh, now.Add(i.cfg.RefreshTokenTTL)),
	}
}

func (i *Issuer) sign(userID model.ID, kind TokenKind, expiresAt time.Time) string {
	payload := fmt.Sprintf("%s|%s|%d", userID.String(), kind, expiresAt.Unix())
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// Verify checks a token's signature and expiry and, when kind matches,
// returns the userID it was issued for. The HMAC comparison is
// constant-time (hmac.Equal), same as the webhook token comparison.
func (i *Issuer) Verify(token string, kind TokenKind) (model.ID, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return model.ZeroID, fmt.Errorf("auth: malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return model.ZeroID, fmt.Errorf("auth: malformed token payload")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return model.ZeroID, fmt.Errorf("auth: malformed token signature")
	}

	mac := hmac.New(sha256.New, i.key)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, sig) {
		return model.ZeroID, fmt.Errorf("auth: invalid token signature")
	}

	fields := strings.SplitN(string(payload), "|", 3)
	if len(fields) != 3 {
		return model.ZeroID, fmt.Errorf("auth: malformed token fields")
	}
	if TokenKind(fields[1]) != kind {
		return model.ZeroID, fmt.Errorf("auth: wrong token kind %q, want %q", fields[1], kind)
	}
	expiryUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return model.ZeroID, fmt.Errorf("auth: malformed token expiry")
	}
	if i.now().Unix() > expiryUnix {
		return model.ZeroID, fmt.Errorf("auth: token expired")
	}

	userID, err := model.ParseID(fields[0])
	if err != nil {
		return model.ZeroID, fmt.Errorf("auth: malformed token subject: %w", err)
	}
	return userID, nil
}
