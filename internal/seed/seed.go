// Package seed loads local-dev fixture data from a YAML file and
// applies it against the repositories so a fresh database comes up
// with a usable user, a default RMS config and a starter strategy
// instead of an empty schema.
package seed

import (
	"context"
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"strategyexecutor/internal/model"
)

// Document is the top-level shape of a seed file.
type Document struct {
	Users      []UserSeed      `yaml:"users"`
	Groups     []GroupSeed     `yaml:"execution_groups"`
	RmsConfigs []RmsConfigSeed `yaml:"rms_configs"`
	Strategies []StrategySeed  `yaml:"strategies"`
	Webhooks   []WebhookSeed   `yaml:"webhooks"`
}

type UserSeed struct {
	Email    string    `yaml:"email"`
	Password string    `yaml:"password"`
	Role     model.Role `yaml:"role"`
}

type GroupSeed struct {
	OwnerEmail  string          `yaml:"owner_email"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Mode        model.GroupMode `yaml:"mode"`
}

type RmsConfigSeed struct {
	UserEmail              string   `yaml:"user_email"`
	MaxLotsPerOrder        *int     `yaml:"max_lots_per_order"`
	MaxDailyLoss           *float64 `yaml:"max_daily_loss"`
	MaxDailyLots           *int     `yaml:"max_daily_lots"`
	ExposureLimit          *float64 `yaml:"exposure_limit"`
	MarginBufferPct        float64  `yaml:"margin_buffer_pct"`
	AutoSquareOffEnabled   bool     `yaml:"auto_square_off_enabled"`
	AutoSquareOffBufferPct float64  `yaml:"auto_square_off_buffer_pct"`
	AutoHedgeEnabled       bool     `yaml:"auto_hedge_enabled"`
	AutoHedgeRatio         *float64 `yaml:"auto_hedge_ratio"`
}

type ScheduledJobSeed struct {
	CronExpr    string `yaml:"cron_expr"`
	ContextJSON string `yaml:"context"`
}

type StrategySeed struct {
	OwnerEmail string              `yaml:"owner_email"`
	Name       string              `yaml:"name"`
	Type       model.StrategyType  `yaml:"type"`
	ParamsJSON string              `yaml:"params"`
	Jobs       []ScheduledJobSeed  `yaml:"scheduled_jobs"`
}

type WebhookSeed struct {
	OwnerEmail    string `yaml:"owner_email"`
	StrategyName  string `yaml:"strategy_name"`
	Token         string `yaml:"token"`
	TransformJSON string `yaml:"transform"`
}

// Load reads and parses a seed file. A missing file is not an error;
// callers treat a nil Document as "nothing to seed" so the same
// InitMainDB path works whether or not SEED_FILE is configured.
func Load(path string) (*Document, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return &doc, nil
}

// UserStore is the narrow seam seeding needs out of
// internal/repository.UserRepository.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// GroupStore is the narrow seam for execution-group seeding.
type GroupStore interface {
	Create(ctx context.Context, group *model.ExecutionGroup) error
	ListByUser(ctx context.Context, userID model.ID) ([]model.ExecutionGroup, error)
}

// RmsConfigStore is the narrow seam for RMS config seeding, satisfied
// by internal/repository.RmsRepository.
type RmsConfigStore interface {
	Upsert(ctx context.Context, cfg *model.RmsConfig) error
}

// StrategyStore is the narrow seam for strategy seeding.
type StrategyStore interface {
	Create(ctx context.Context, strategy *model.Strategy) error
	ListByUser(ctx context.Context, userID model.ID) ([]model.Strategy, error)
}

// JobStore is the narrow seam for scheduled-job seeding, satisfied by
// internal/repository.SchedulerRepository.
type JobStore interface {
	Create(ctx context.Context, job *model.ScheduledJob) error
}

// WebhookStore is the narrow seam for webhook-connector seeding.
type WebhookStore interface {
	Create(ctx context.Context, connector *model.WebhookConnector) error
	ByToken(ctx context.Context, token string) (*model.WebhookConnector, error)
}

// Stores bundles the repositories Apply writes through. Every field
// is optional; a nil store skips the corresponding seed section.
type Stores struct {
	Users      UserStore
	Groups     GroupStore
	RmsConfigs RmsConfigStore
	Strategies StrategyStore
	Jobs       JobStore
	Webhooks   WebhookStore
}

// Apply upserts a Document's fixtures. It is safe to call against an
// already-seeded database: users are matched by email, groups and
// strategies by (owner, name), so a restart never produces duplicate
// rows. RmsConfigs always overwrite, since RmsRepository.Upsert itself
// is the idempotent primitive for that table.
func Apply(ctx context.Context, doc *Document, stores Stores, log *logger.Entry) error {
	if doc == nil {
		return nil
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	userIDs := map[string]model.ID{}
	if stores.Users != nil {
		for _, u := range doc.Users {
			existing, err := stores.Users.FindByEmail(ctx, u.Email)
			if err != nil {
				return fmt.Errorf("seed: lookup user %s: %w", u.Email, err)
			}
			if existing != nil {
				userIDs[u.Email] = existing.ID
				continue
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("seed: hash password for %s: %w", u.Email, err)
			}
			role := u.Role
			if role == "" {
				role = model.RoleTrader
			}
			created := &model.User{ID: model.NewID(), Email: u.Email, PasswordHash: string(hash), Role: role}
			if err := stores.Users.Create(ctx, created); err != nil {
				return fmt.Errorf("seed: create user %s: %w", u.Email, err)
			}
			log.WithField("email", u.Email).Info("seeded user")
			userIDs[u.Email] = created.ID
		}
	}

	if stores.Groups != nil {
		for _, g := range doc.Groups {
			ownerID, ok := userIDs[g.OwnerEmail]
			if !ok {
				log.WithField("owner_email", g.OwnerEmail).Warn("seed: execution group owner not seeded, skipping")
				continue
			}
			existing, err := stores.Groups.ListByUser(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("seed: list groups for %s: %w", g.OwnerEmail, err)
			}
			if containsGroupName(existing, g.Name) {
				continue
			}
			mode := g.Mode
			if mode == "" {
				mode = model.GroupModeParallel
			}
			group := &model.ExecutionGroup{ID: model.NewID(), UserID: ownerID, Name: g.Name, Description: g.Description, Mode: mode}
			if err := stores.Groups.Create(ctx, group); err != nil {
				return fmt.Errorf("seed: create execution group %s: %w", g.Name, err)
			}
			log.WithField("name", g.Name).Info("seeded execution group")
		}
	}

	if stores.RmsConfigs != nil {
		for _, c := range doc.RmsConfigs {
			userID, ok := userIDs[c.UserEmail]
			if !ok {
				log.WithField("user_email", c.UserEmail).Warn("seed: rms config owner not seeded, skipping")
				continue
			}
			cfg := &model.RmsConfig{
				UserID:                 userID,
				MaxLotsPerOrder:        c.MaxLotsPerOrder,
				MaxDailyLoss:           c.MaxDailyLoss,
				MaxDailyLots:           c.MaxDailyLots,
				ExposureLimit:          c.ExposureLimit,
				MarginBufferPct:        c.MarginBufferPct,
				AutoSquareOffEnabled:   c.AutoSquareOffEnabled,
				AutoSquareOffBufferPct: c.AutoSquareOffBufferPct,
				AutoHedgeEnabled:       c.AutoHedgeEnabled,
				AutoHedgeRatio:         c.AutoHedgeRatio,
			}
			if err := stores.RmsConfigs.Upsert(ctx, cfg); err != nil {
				return fmt.Errorf("seed: upsert rms config for %s: %w", c.UserEmail, err)
			}
		}
	}

	strategyIDs := map[string]model.ID{}
	if stores.Strategies != nil {
		for _, s := range doc.Strategies {
			ownerID, ok := userIDs[s.OwnerEmail]
			if !ok {
				log.WithField("owner_email", s.OwnerEmail).Warn("seed: strategy owner not seeded, skipping")
				continue
			}
			existing, err := stores.Strategies.ListByUser(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("seed: list strategies for %s: %w", s.OwnerEmail, err)
			}
			if id, found := findStrategyByName(existing, s.Name); found {
				strategyIDs[s.OwnerEmail+"/"+s.Name] = id
				continue
			}
			params := s.ParamsJSON
			if params == "" {
				params = "{}"
			}
			typ := s.Type
			if typ == "" {
				typ = model.StrategyCustom
			}
			strategy := &model.Strategy{ID: model.NewID(), UserID: ownerID, Name: s.Name, Type: typ, ParamsJSON: params, Status: model.StrategyActive}
			if err := stores.Strategies.Create(ctx, strategy); err != nil {
				return fmt.Errorf("seed: create strategy %s: %w", s.Name, err)
			}
			log.WithField("name", s.Name).Info("seeded strategy")
			strategyIDs[s.OwnerEmail+"/"+s.Name] = strategy.ID

			if stores.Jobs != nil {
				for _, j := range s.Jobs {
					job := &model.ScheduledJob{ID: model.NewID(), StrategyID: strategy.ID, CronExpr: j.CronExpr, Enabled: true, ContextJSON: j.ContextJSON}
					if err := stores.Jobs.Create(ctx, job); err != nil {
						return fmt.Errorf("seed: create scheduled job for %s: %w", s.Name, err)
					}
				}
			}
		}
	}

	if stores.Webhooks != nil {
		for _, wh := range doc.Webhooks {
			ownerID, ok := userIDs[wh.OwnerEmail]
			if !ok {
				log.WithField("owner_email", wh.OwnerEmail).Warn("seed: webhook owner not seeded, skipping")
				continue
			}
			strategyID, ok := strategyIDs[wh.OwnerEmail+"/"+wh.StrategyName]
			if !ok {
				log.WithField("strategy_name", wh.StrategyName).Warn("seed: webhook strategy not seeded, skipping")
				continue
			}
			existing, err := stores.Webhooks.ByToken(ctx, wh.Token)
			if err != nil {
				return fmt.Errorf("seed: lookup webhook token: %w", err)
			}
			if existing != nil {
				continue
			}
			connector := &model.WebhookConnector{ID: model.NewID(), UserID: ownerID, Token: wh.Token, StrategyID: strategyID, TransformJSON: wh.TransformJSON, Enabled: true}
			if err := stores.Webhooks.Create(ctx, connector); err != nil {
				return fmt.Errorf("seed: create webhook connector: %w", err)
			}
			log.WithField("strategy_name", wh.StrategyName).Info("seeded webhook connector")
		}
	}

	return nil
}

func containsGroupName(groups []model.ExecutionGroup, name string) bool {
	for _, g := range groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

func findStrategyByName(strategies []model.Strategy, name string) (model.ID, bool) {
	for _, s := range strategies {
		if s.Name == name {
			return s.ID, true
		}
	}
	return model.ZeroID, false
}
