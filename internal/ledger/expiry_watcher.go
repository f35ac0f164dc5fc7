package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

// DefaultExpirySchedule is the sweep interval used when none is configured.
const DefaultExpirySchedule = "@every 1m"

// ExpiryWatcher periodically announces assets whose expiry has passed. It
// only observes; balances are never touched.
type ExpiryWatcher struct {
	ledger    *Ledger
	publisher audit.Publisher
	logger    *zap.Logger
	schedule  string
	clock     domain.Clock

	cron     *cron.Cron
	mu       sync.Mutex
	notified map[domain.AssetID]struct{}
	running  bool
}

// NewExpiryWatcher creates a watcher sweeping on the given cron schedule.
func NewExpiryWatcher(ledger *Ledger, publisher audit.Publisher, logger *zap.Logger, schedule string) *ExpiryWatcher {
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	if publisher == nil {
		publisher = audit.Discard
	}
	return &ExpiryWatcher{
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		schedule:  schedule,
		clock:     ledger.opts.Clock,
		cron:      cron.New(),
		notified:  make(map[domain.AssetID]struct{}),
	}
}

// ValidateSchedule checks a sweep schedule expression.
func ValidateSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", expr, err)
	}
	return nil
}

// Start schedules the sweep.
func (w *ExpiryWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("expiry watcher already running")
	}

	if _, err := w.cron.AddFunc(w.schedule, func() {
		w.Sweep(w.clock())
	}); err != nil {
		return fmt.Errorf("failed to add expiry sweep: %w", err)
	}

	w.cron.Start()
	w.running = true

	w.logger.Info("Expiry watcher started", zap.String("schedule", w.schedule))

	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (w *ExpiryWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()

	w.logger.Info("Expiry watcher stopped")
}

// Sweep emits one asset.expired event for every asset that expired at or
// before now and was not announced yet. It returns the newly expired ids.
func (w *ExpiryWatcher) Sweep(now time.Time) []domain.AssetID {
	var expired []domain.AssetID

	for _, asset := range w.ledger.Assets() {
		if !asset.Expired(now) {
			continue
		}

		w.mu.Lock()
		_, seen := w.notified[asset.ID]
		if !seen {
			w.notified[asset.ID] = struct{}{}
		}
		w.mu.Unlock()
		if seen {
			continue
		}

		ev := audit.NewEvent(audit.EventAssetExpired, "")
		ev.AssetID = asset.ID
		ev.Amount = asset.TotalSupply
		ev.Data = map[string]any{"expiry": asset.Expiry}
		w.publisher.Publish(ev)

		w.logger.Info("Asset expired",
			zap.Uint64("asset_id", uint64(asset.ID)),
			zap.Time("expiry", asset.Expiry),
			zap.Int64("total_supply", asset.TotalSupply))

		expired = append(expired, asset.ID)
	}

	return expired
}
