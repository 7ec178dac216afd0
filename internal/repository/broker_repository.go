package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/orchestrator"
)

// BrokerLinkRepository handles BrokerLink and its child Account rows.
// It satisfies internal/broker's LinkLookup and SessionStore seams:
// one repository type backing several narrow consumer interfaces.
// The account-level seams live on AccountRepository below.
type BrokerLinkRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewBrokerLinkRepository(db *gorm.DB, log *logger.Entry) *BrokerLinkRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &BrokerLinkRepository{db: db, log: log.WithField("component", "repository.BrokerLinkRepository")}
}

func (r *BrokerLinkRepository) WithDB(db *gorm.DB) *BrokerLinkRepository {
	return &BrokerLinkRepository{db: db, log: r.log}
}

func (r *BrokerLinkRepository) Create(ctx context.Context, link *model.BrokerLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("repository: create broker link: %w", err)
	}
	return nil
}

func (r *BrokerLinkRepository) Delete(ctx context.Context, linkID model.ID) error {
	// Accounts cascade via the foreign-key constraint declared on
	// BrokerLink.Accounts, so deleting a BrokerLink deletes its Accounts.
	if err := r.db.WithContext(ctx).Delete(&model.BrokerLink{}, "id = ?", linkID).Error; err != nil {
		return fmt.Errorf("repository: delete broker link: %w", err)
	}
	return nil
}

func (r *BrokerLinkRepository) ListByUser(ctx context.Context, userID model.ID) ([]model.BrokerLink, error) {
	var links []model.BrokerLink
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("repository: list broker links: %w", err)
	}
	return links, nil
}

// Get implements broker.LinkLookup.
func (r *BrokerLinkRepository) Get(ctx context.Context, linkID model.ID) (*model.BrokerLink, error) {
	var link model.BrokerLink
	err := r.db.WithContext(ctx).First(&link, "id = ?", linkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("repository: broker link %s: %w", linkID, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get broker link: %w", err)
	}
	return &link, nil
}

func (r *BrokerLinkRepository) UpdateStatus(ctx context.Context, linkID model.ID, status model.BrokerStatus) error {
	err := r.db.WithContext(ctx).Model(&model.BrokerLink{}).Where("id = ?", linkID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("repository: update broker link status: %w", err)
	}
	return nil
}

// Load implements broker.SessionStore by reading the session token
// cached directly on the BrokerLink row, keeping the session-refresh
// lock domain backed by ordinary row storage rather than a
// second cache the registry would need to reconcile.
func (r *BrokerLinkRepository) Load(ctx context.Context, linkID model.ID) (broker.Session, bool, error) {
	var link model.BrokerLink
	err := r.db.WithContext(ctx).Select("session_token", "session_expires_at").First(&link, "id = ?", linkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return broker.Session{}, false, nil
	}
	if err != nil {
		return broker.Session{}, false, fmt.Errorf("repository: load session: %w", err)
	}
	if link.SessionToken == "" {
		return broker.Session{}, false, nil
	}
	expires := time.Time{}
	if link.SessionExpiresAt != nil {
		expires = *link.SessionExpiresAt
	}
	return broker.Session{Token: link.SessionToken, ExpiresAt: expires}, true, nil
}

func (r *BrokerLinkRepository) Save(ctx context.Context, linkID model.ID, session broker.Session) error {
	updates := map[string]any{
		"session_token":      session.Token,
		"session_expires_at": session.ExpiresAt,
		"status":             model.BrokerStatusConnected,
		"last_login_at":      time.Now(),
	}
	err := r.db.WithContext(ctx).Model(&model.BrokerLink{}).Where("id = ?", linkID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("repository: save session: %w", err)
	}
	return nil
}

// AccountRepository handles Account rows and satisfies
// orchestrator.AccountResolver / rms.AccountMarginProvider.
type AccountRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewAccountRepository(db *gorm.DB, log *logger.Entry) *AccountRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &AccountRepository{db: db, log: log.WithField("component", "repository.AccountRepository")}
}

func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db, log: r.log}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("repository: create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) UpdateMargin(ctx context.Context, accountID model.ID, snapshot broker.MarginSnapshot) error {
	updates := map[string]any{
		"margin_available": snapshot.Available,
		"margin_utilised":  snapshot.Utilised,
	}
	if snapshot.Currency != "" {
		updates["currency"] = snapshot.Currency
	}
	err := r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", accountID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("repository: update account margin: %w", err)
	}
	return nil
}

// Resolve implements orchestrator.AccountResolver: it joins the
// Account row to its owning BrokerLink to produce the dispatch
// context one leg needs (the broker_kind drives which Registry
// adapter handles the Place call).
func (r *AccountRepository) Resolve(ctx context.Context, accountID model.ID) (orchestrator.AccountContext, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		return orchestrator.AccountContext{}, fmt.Errorf("repository: resolve account: %w", err)
	}
	var link model.BrokerLink
	if err := r.db.WithContext(ctx).First(&link, "id = ?", account.BrokerLinkID).Error; err != nil {
		return orchestrator.AccountContext{}, fmt.Errorf("repository: resolve account's broker link: %w", err)
	}
	return orchestrator.AccountContext{
		Account:     account,
		Link:        link,
		AdapterKind: broker.Kind(link.BrokerKind),
	}, nil
}

// AvailableMargin implements rms.AccountMarginProvider over the
// stored Account.MarginAvailable snapshot. It makes no broker call, so
// a leg's pre-trade check never waits on the adapter metadata deadline
// while holding the RMS lock. The snapshot changes only through
// UpdateMargin, which no server or scheduler path calls.
func (r *AccountRepository) AvailableMargin(ctx context.Context, accountID model.ID) (decimal.Decimal, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).Select("margin_available").First(&account, "id = ?", accountID).Error; err != nil {
		return decimal.Zero, fmt.Errorf("repository: load account margin: %w", err)
	}
	return decimal.NewFromFloat(account.MarginAvailable), nil
}

// AvailableMarginByUser implements rms.UserMarginProvider, summing the
// last-synced margin snapshot across every account the user's broker
// links own — the status endpoint's aggregate figure.
func (r *AccountRepository) AvailableMarginByUser(ctx context.Context, userID model.ID) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&model.Account{}).
		Joins("JOIN broker_links ON broker_links.id = accounts.broker_link_id").
		Where("broker_links.user_id = ?", userID).
		Select("COALESCE(SUM(accounts.margin_available), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("repository: sum account margin for user: %w", err)
	}
	return total, nil
}
