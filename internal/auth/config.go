package auth

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the signing key and token lifetimes for the
// HMAC-signed bearer tokens issued by /auth/register and /auth/login.
type Config struct {
	// SigningKeyB64 is a 32-byte key, base64-encoded, used to sign
	// issued tokens with HMAC-SHA256.
	SigningKeyB64  string        `envconfig:"AUTH_SIGNING_KEY" default:"Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI="`
	AccessTokenTTL time.Duration `envconfig:"AUTH_ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokenTTL time.Duration `envconfig:"AUTH_REFRESH_TOKEN_TTL" default:"168h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
