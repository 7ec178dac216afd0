// Package vault implements the Credential Vault: at-rest
// authenticated encryption for broker secrets, with plaintext living
// only on the stack inside a single adapter call frame.
package vault

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6238 mandates SHA-1 for classic TOTP
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"

	"strategyexecutor/internal/model"
)

var (
	ErrInvalidKey       = errors.New("vault: credentials key must decode to 32 bytes")
	ErrCiphertextShort  = errors.New("vault: ciphertext shorter than nonce")
	ErrDecryptionFailed = errors.New("vault: decryption failed, ciphertext may be tampered")
)

// Secrets is the plaintext broker credential bundle. It exists only on
// the stack inside Fetch's return frame and inside a single adapter
// call; callers must not retain it beyond that call.
type Secrets struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
	TOTPSeed   string `json:"totp_seed,omitempty"`
}

// Vault seals and opens Secrets for a BrokerLink using a single
// process-wide symmetric key sourced from configuration.
type Vault struct {
	key [32]byte
	log *logger.Entry
}

func New(cfg Config, log *logger.Entry) (*Vault, error) {
	raw, err := base64.StdEncoding.DecodeString(cfg.CredentialsKeyB64)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	v := &Vault{log: log.WithField("component", "vault")}
	copy(v.key[:], raw)
	return v, nil
}

// Store encrypts secrets for the given BrokerLink and returns the
// ciphertext the caller should persist on BrokerLink.EncryptedCredentials.
func (v *Vault) Store(link *model.BrokerLink, secrets Secrets) ([]byte, error) {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("vault: marshal secrets: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, &v.key)

	v.log.WithFields(logger.Fields{
		"broker_link_id": link.ID,
		"broker_kind":    link.BrokerKind,
	}).Info("credentials stored")

	return sealed, nil
}

// Fetch decrypts the BrokerLink's stored ciphertext. The audit log
// records the access; callers must not hold the returned Secrets
// beyond the adapter call that needed them.
func (v *Vault) Fetch(link *model.BrokerLink) (Secrets, error) {
	var secrets Secrets
	if len(link.EncryptedCredentials) < 24 {
		return secrets, ErrCiphertextShort
	}

	var nonce [24]byte
	copy(nonce[:], link.EncryptedCredentials[:24])

	plain, ok := secretbox.Open(nil, link.EncryptedCredentials[24:], &nonce, &v.key)
	if !ok {
		return secrets, ErrDecryptionFailed
	}

	if err := json.Unmarshal(plain, &secrets); err != nil {
		return secrets, fmt.Errorf("vault: unmarshal secrets: %w", err)
	}

	v.log.WithFields(logger.Fields{
		"broker_link_id": link.ID,
		"broker_kind":    link.BrokerKind,
	}).Info("credentials fetched")

	return secrets, nil
}

// Forget is a no-op over storage (the caller clears
// EncryptedCredentials on the BrokerLink row); it only exists to keep
// the vault's lifecycle symmetric with Store/Fetch and to audit-log
// the deletion intent.
func (v *Vault) Forget(link *model.BrokerLink) {
	v.log.WithFields(logger.Fields{
		"broker_link_id": link.ID,
		"broker_kind":    link.BrokerKind,
	}).Warn("credentials forgotten")
}

// GenerateTOTP derives the 6-digit code for the given seed at callTime,
// per RFC 6238 with a 30s step. The seed never leaves this call frame.
func GenerateTOTP(seed string, callTime time.Time) (string, error) {
	key, err := decodeTOTPSeed(seed)
	if err != nil {
		return "", err
	}

	counter := uint64(callTime.Unix() / 30)
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff) % 1_000_000

	return fmt.Sprintf("%06d", code), nil
}

func decodeTOTPSeed(seed string) ([]byte, error) {
	clean := strings.ToUpper(strings.TrimSpace(seed))
	clean = strings.ReplaceAll(clean, " ", "")
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(clean)
}
