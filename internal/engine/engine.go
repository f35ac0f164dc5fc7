// Package engine wires the registry, ledgers, workflow and market into one
// running engine from configuration.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/access"
	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/audit/websocket"
	"carbon-scribe/vericarbon-engine/internal/certification"
	"carbon-scribe/vericarbon-engine/internal/config"
	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/ledger"
	"carbon-scribe/vericarbon-engine/internal/market"
)

// Engine is the assembled certification-and-market engine.
type Engine struct {
	Registry      *access.Registry
	Ledger        *ledger.Ledger
	Stable        *ledger.StableLedger
	Certification *certification.Service
	Market        *market.Service
	Watcher       *ledger.ExpiryWatcher
	Events        *websocket.Manager

	dispatcher *audit.Dispatcher
	closers    []func() error
	logger     *zap.Logger
}

// Option adjusts how the engine is assembled.
type Option func(*options)

type options struct {
	sinks []audit.Sink
	clock domain.Clock
}

// WithSinks adds audit sinks next to the configured ones.
func WithSinks(sinks ...audit.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock replaces the system clock.
func WithClock(clock domain.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// New validates cfg and assembles the engine. Optional sinks (journal, redis,
// sns) are enabled by their configuration sections.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{clock: domain.SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := certification.ParseQuorumPolicy(cfg.Engine.QuorumPolicy)
	if err != nil {
		return nil, err
	}
	feeBps, err := cfg.Engine.ResolveFeeBps()
	if err != nil {
		return nil, err
	}

	e := &Engine{logger: logger}

	e.Events = websocket.NewManager(logger)
	e.closers = append(e.closers, func() error { e.Events.Close(); return nil })

	sinks := []audit.Sink{e.Events}
	optional, err := e.optionalSinks(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	sinks = append(sinks, optional...)
	sinks = append(sinks, o.sinks...)

	e.dispatcher = audit.NewDispatcher(logger, audit.DispatcherConfig{
		BufferSize:      cfg.Engine.AuditBufferSize,
		DeliveryTimeout: cfg.Engine.AuditDeliveryTimeout,
	}, sinks...)

	e.Registry, err = access.NewRegistry(domain.NewAccount(cfg.Engine.BootstrapAdmin), e.dispatcher, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.Ledger = ledger.NewLedger(ledger.Options{
		EnforceExpiry: cfg.Engine.EnforceExpiry,
		Clock:         o.clock,
	}, e.dispatcher, logger)
	e.Stable = ledger.NewStableLedger(e.dispatcher, logger)
	e.Watcher = ledger.NewExpiryWatcher(e.Ledger, e.dispatcher, logger, cfg.Engine.ExpirySchedule)

	e.Certification = certification.NewService(e.Registry, e.Ledger, certification.Options{
		Policy: policy,
		Clock:  o.clock,
	}, e.dispatcher, logger)

	e.Market, err = market.NewService(e.Ledger, e.Stable, market.Options{
		FeeBps:         feeBps,
		StableDecimals: cfg.Engine.StableDecimals,
		Clock:          o.clock,
	}, e.dispatcher, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	logger.Info("Engine assembled",
		zap.String("bootstrap_admin", cfg.Engine.BootstrapAdmin),
		zap.String("quorum_policy", string(policy)),
		zap.Uint32("fee_bps", feeBps),
		zap.Bool("enforce_expiry", cfg.Engine.EnforceExpiry),
		zap.Int("audit_sinks", len(sinks)))

	return e, nil
}

func (e *Engine) optionalSinks(ctx context.Context, cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if cfg.Database.JournalEnabled() {
		journal, err := audit.OpenJournal(cfg.Database.GetDatabaseURL())
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, journal.Close)
		sinks = append(sinks, journal)
		e.logger.Info("Event journal enabled", zap.String("host", cfg.Database.Host))
	}

	if cfg.Redis.Addr != "" {
		client, err := audit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, client.Close)
		sinks = append(sinks, audit.NewRedisSink(client, cfg.Redis.Channel))
		e.logger.Info("Redis event sink enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.SNS.TopicARN != "" {
		client, err := audit.NewSNSClient(ctx, audit.SNSConfig{
			Region:          cfg.SNS.Region,
			TopicARN:        cfg.SNS.TopicARN,
			AccessKeyID:     cfg.SNS.AccessKeyID,
			SecretAccessKey: cfg.SNS.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, audit.NewSNSSink(client, cfg.SNS.TopicARN))
		e.logger.Info("SNS event sink enabled", zap.String("topic_arn", cfg.SNS.TopicARN))
	}

	return sinks, nil
}

// Start launches background work.
func (e *Engine) Start() error {
	return e.Watcher.Start()
}

// CanDeposit reports whether account may fund stable balances. Only the
// admin bridges the external stable asset in.
func (e *Engine) CanDeposit(account domain.Account) bool {
	return e.Registry.HasRole(access.RoleAdmin, account)
}

// DroppedEvents returns the number of audit events discarded so far.
func (e *Engine) DroppedEvents() uint64 {
	if e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// Close stops background work, flushes pending events and releases sinks.
func (e *Engine) Close() error {
	if e.Watcher != nil {
		e.Watcher.Stop()
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
