package model

import "time"

type BrokerStatus string

const (
	BrokerStatusConnected    BrokerStatus = "connected"
	BrokerStatusExpired      BrokerStatus = "expired"
	BrokerStatusError        BrokerStatus = "error"
	BrokerStatusDisconnected BrokerStatus = "disconnected"
)

// BrokerLink is a user's credentialed connection to one broker account set.
// Encrypted credentials are opaque ciphertext produced by internal/vault;
// plaintext is never stored here.
type BrokerLink struct {
	ID                   ID           `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               ID           `gorm:"type:uuid;index;not null" json:"user_id"`
	BrokerKind           string       `gorm:"size:60;not null" json:"broker_kind"`
	ClientCode           string       `gorm:"size:120;not null" json:"client_code"`
	EncryptedCredentials []byte       `gorm:"type:bytea" json:"-"`
	SessionToken         string       `gorm:"size:255" json:"-"`
	SessionExpiresAt     *time.Time   `json:"session_expires_at,omitempty"`
	Status               BrokerStatus `gorm:"size:20;not null;default:disconnected" json:"status"`
	LastLoginAt          *time.Time   `json:"last_login_at,omitempty"`

	Accounts []Account `gorm:"foreignKey:BrokerLinkID;constraint:OnDelete:CASCADE" json:"accounts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BrokerLink) TableName() string { return "broker_links" }

// Account is a broker-side trading account belonging to a BrokerLink.
type Account struct {
	ID               ID      `gorm:"type:uuid;primaryKey" json:"id"`
	BrokerLinkID     ID      `gorm:"type:uuid;index;not null" json:"broker_link_id"`
	BrokerAccountRef string  `gorm:"size:120" json:"broker_account_ref"`
	Currency         string  `gorm:"size:10;not null;default:INR" json:"currency"`
	MarginAvailable  float64 `json:"margin_available"`
	MarginUtilised   float64 `json:"margin_utilised"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
