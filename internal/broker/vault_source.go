package broker

import (
	"context"
	"fmt"
	"time"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/vault"
)

// LinkLookup resolves a BrokerLink's row from storage given its ID;
// VaultCredentialSource needs the EncryptedCredentials blob before it
// can ask the vault to open it.
type LinkLookup interface {
	Get(ctx context.Context, linkID model.ID) (*model.BrokerLink, error)
}

// VaultCredentialSource is the production CredentialSource: it opens
// a BrokerLink's encrypted secrets through internal/vault for exactly
// the duration of one Connect call, generating a fresh TOTP code if
// the broker requires one.
type VaultCredentialSource struct {
	vault  *vault.Vault
	links  LinkLookup
	at     func() time.Time
}

func NewVaultCredentialSource(v *vault.Vault, links LinkLookup) *VaultCredentialSource {
	return &VaultCredentialSource{vault: v, links: links, at: time.Now}
}

func (s *VaultCredentialSource) Credentials(ctx context.Context, link model.BrokerLink) (Credentials, error) {
	row, err := s.links.Get(ctx, link.ID)
	if err != nil {
		return Credentials{}, fmt.Errorf("broker: load broker link: %w", err)
	}

	secrets, err := s.vault.Fetch(row)
	if err != nil {
		return Credentials{}, fmt.Errorf("broker: open credentials: %w", err)
	}

	creds := Credentials{APIKey: secrets.APIKey, APISecret: secrets.APISecret, Passphrase: secrets.Passphrase}
	if secrets.TOTPSeed != "" {
		code, err := vault.GenerateTOTP(secrets.TOTPSeed, s.at())
		if err != nil {
			return Credentials{}, fmt.Errorf("broker: generate TOTP: %w", err)
		}
		creds.TOTPCode = code
	}
	return creds, nil
}
