package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"github.com/itsneelabh/betpilot/browser"
	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/discovery"
	"github.com/itsneelabh/betpilot/events"
	"github.com/itsneelabh/betpilot/knowledge"
	"github.com/itsneelabh/betpilot/reconcile"
	"github.com/itsneelabh/betpilot/resilience"
	"github.com/itsneelabh/betpilot/store/csvstore"
	"github.com/itsneelabh/betpilot/store/sqlitestore"
	"github.com/itsneelabh/betpilot/telemetry"
)

// runtime holds what every command shares: configuration, logging,
// telemetry and the event sink. Close releases everything it opened.
type runtime struct {
	cfg     *core.Config
	logger  core.Logger
	tel     *telemetry.OTelProvider
	events  events.Sink
	closers []func(context.Context) error
}

func bootstrap(ctx context.Context, opts *RootOptions) (*runtime, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	var cfgOpts []core.Option
	if opts.ConfigFile != "" {
		cfgOpts = append(cfgOpts, core.WithConfigFile(opts.ConfigFile))
	}
	if opts.LogLevel != "" {
		cfgOpts = append(cfgOpts, core.WithLogLevel(opts.LogLevel))
	}
	cfg, err := core.NewConfig(cfgOpts...)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: core.NewProductionLogger(cfg.Logging, cfg.Name)}
	if s, ok := rt.logger.(interface{ Sync() error }); ok {
		rt.onClose(func(context.Context) error {
			_ = s.Sync()
			return nil
		})
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Name)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	rt.tel = tel
	rt.onClose(tel.Shutdown)

	logSink := events.NewLogSink(core.ComponentLogger(rt.logger, "events"))
	rt.events = logSink
	if cfg.Events.Provider == "nats" {
		ns, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.Subject, cfg.Name)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("connect nats: %v: %w", err, core.ErrConnectionFailed)
		}
		rt.events = events.Multi{logSink, ns}
		rt.onClose(func(context.Context) error { return ns.Close() })
	}
	return rt, nil
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close runs the closers in reverse order.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// persister returns the configured locator persister, nil for the memory
// provider.
func (rt *runtime) persister() (knowledge.Persister, error) {
	switch rt.cfg.Knowledge.Provider {
	case "file":
		return knowledge.NewFilePersister(rt.cfg.Knowledge.FilePath), nil
	case "redis":
		p, err := knowledge.NewRedisPersister(knowledge.RedisPersisterOptions{
			RedisURL:  rt.cfg.Knowledge.RedisURL,
			Namespace: rt.cfg.Knowledge.Namespace,
			Logger:    core.ComponentLogger(rt.logger, "knowledge"),
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(func(context.Context) error { return p.Close() })
		return p, nil
	default:
		return nil, nil
	}
}

// locatorStore returns a memory store hydrated from the persister.
func (rt *runtime) locatorStore(ctx context.Context) (*knowledge.Memory, knowledge.Persister, error) {
	store := knowledge.NewMemory()
	p, err := rt.persister()
	if err != nil {
		return nil, nil, err
	}
	if p != nil {
		n, err := knowledge.Hydrate(ctx, store, p)
		if err != nil {
			return nil, nil, fmt.Errorf("load locators: %w", err)
		}
		rt.logger.Debug("Hydrated knowledge store", map[string]interface{}{"entries": n})
	}
	return store, p, nil
}

func (rt *runtime) oracle() (discovery.Oracle, error) {
	d := rt.cfg.Discovery
	switch d.Provider {
	case "static":
		if d.StaticFile == "" {
			return nil, &core.FrameworkError{Op: "cli.oracle", Kind: "config", Message: "static discovery needs a mappings file", Err: core.ErrMissingConfiguration}
		}
		o, err := discovery.LoadStaticOracle(d.StaticFile)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "http", "":
		if d.Endpoint == "" {
			return nil, &core.FrameworkError{Op: "cli.oracle", Kind: "config", Message: "discovery endpoint is required", Err: core.ErrMissingConfiguration}
		}
		return discovery.NewHTTPOracle(d.Endpoint, d.Timeout, core.ComponentLogger(rt.logger, "discovery")), nil
	default:
		return nil, &core.FrameworkError{Op: "cli.oracle", Kind: "config", Message: "unknown discovery provider: " + d.Provider, Err: core.ErrInvalidConfiguration}
	}
}

// healer wires store, oracle and page into an executor.
func (rt *runtime) healer(store *knowledge.Memory, persister knowledge.Persister, page discovery.Snapshotter) (*resilience.Healer, error) {
	oracle, err := rt.oracle()
	if err != nil {
		return nil, err
	}
	adapter := discovery.NewAdapter(oracle, store)
	adapter.Persister = persister
	adapter.Timeout = rt.cfg.Discovery.Timeout
	adapter.Logger = core.ComponentLogger(rt.logger, "discovery")
	adapter.Telemetry = rt.tel
	if rt.cfg.Discovery.SendSnapshot {
		adapter.Snapshotter = page
	}

	h := resilience.NewHealer(store, adapter, rt.cfg.Healing.SettleDelay)
	h.Logger = core.ComponentLogger(rt.logger, "executor")
	h.Telemetry = rt.tel
	h.Events = rt.events
	return h, nil
}

// launchBrowser starts a session and closes it with the runtime.
func (rt *runtime) launchBrowser() (*browser.Session, error) {
	s, err := browser.Launch(browser.OptionsFrom(rt.cfg.Browser, rt.logger))
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { return s.Close() })
	return s, nil
}

func (rt *runtime) localStore() (reconcile.LocalStore, error) {
	switch rt.cfg.Local.Provider {
	case "sqlite":
		s, err := sqlitestore.Open(rt.cfg.Local.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	default:
		return csvstore.New(rt.cfg.Local.DataDir), nil
	}
}

// shutdownContext bounds Close after the command context is done.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
