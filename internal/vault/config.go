package vault

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the process-sourced key material for the Credential Vault.
type Config struct {
	// CredentialsKeyB64 is a 32-byte key, base64-encoded, used to seal
	// and open broker credentials with nacl/secretbox.
	CredentialsKeyB64 string `envconfig:"VAULT_CREDENTIALS_KEY" default:"Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI="`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
