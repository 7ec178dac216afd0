package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"strategyexecutor/internal/model"
)

// OverridesDocument is a small, operator-editable file of per-user RMS
// guardrail overrides, separate from the full seed Document: it is
// meant to be hand-edited on a running host to tighten or loosen
// limits without a restart, the same "edit the file, watcher applies
// it" workflow market-maker-go's HotReloader drives for its own risk
// config.
type OverridesDocument struct {
	RmsConfigs []RmsConfigSeed `yaml:"rms_configs"`
}

// UserResolver looks an email up to a User ID so overrides can be
// keyed by the human-readable email rather than a raw UUID.
type UserResolver interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// Watcher applies an OverridesDocument to RmsConfigStore when the
// backing file is written (see Start for which writes). Registry.Register documents broker-kind
// bindings as startup-only and read-only thereafter, so this watcher
// only ever touches RmsConfig; there is no hot-swappable broker-kind
// surface to wire it to.
type Watcher struct {
	Path     string
	Users    UserResolver
	Configs  RmsConfigStore
	Log      *logger.Entry
	Cooldown time.Duration
}

// Start applies the file once if it exists, then watches Path and
// applies it on write or create events until ctx is canceled. An event
// arriving within Cooldown of the last apply is skipped and not applied
// later. A file missing at startup is tolerated with a warning, but the
// path is then not watched, so a file created afterwards is not picked
// up.
func (w *Watcher) Start(ctx context.Context) error {
	if w.Log == nil {
		w.Log = logger.NewEntry(logger.StandardLogger())
	}
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("seed: create watcher: %w", err)
	}

	if err := fw.Add(w.Path); err != nil {
		w.Log.WithError(err).Warn("rms overrides file not watchable yet")
	} else if _, err := os.Stat(w.Path); err == nil {
		w.apply(ctx)
	}

	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	var lastApplied time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastApplied) < w.Cooldown {
				continue
			}
			lastApplied = time.Now()
			w.apply(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Log.WithError(err).Warn("rms overrides watcher error")
		}
	}
}

func (w *Watcher) apply(ctx context.Context) {
	raw, err := os.ReadFile(w.Path)
	if err != nil {
		w.Log.WithError(err).Warn("read rms overrides file failed")
		return
	}
	var doc OverridesDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		w.Log.WithError(err).Warn("parse rms overrides file failed")
		return
	}
	for _, c := range doc.RmsConfigs {
		user, err := w.Users.FindByEmail(ctx, c.UserEmail)
		if err != nil || user == nil {
			w.Log.WithField("user_email", c.UserEmail).Warn("rms override: unknown user, skipping")
			continue
		}
		cfg := &model.RmsConfig{
			UserID:                 user.ID,
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
		if err := w.Configs.Upsert(ctx, cfg); err != nil {
			w.Log.WithError(err).WithField("user_email", c.UserEmail).Warn("apply rms override failed")
			continue
		}
		w.Log.WithField("user_email", c.UserEmail).Info("applied rms config override")
	}
}
