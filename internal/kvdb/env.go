package kvdb

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/affinity"
	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/correlation"
	"github.com/piwi3910/kvbench/internal/envconf"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/latency"
)

// Env is an initialized device environment.
type Env struct {
	cfg       *config.Config
	drv       kvs.Driver
	opts      kvs.EnvOptions
	mode      EventMode
	api       string
	writeMode IOMode
	envFile   string
	fatal     FatalFunc

	// corr tracks in-flight requests of the keyspace API variant.
	corr *correlation.Table

	latency     *latency.Set
	completions atomic.Int64

	mu  sync.Mutex
	dbs map[*Database]struct{}
}

// EnvOption customizes SetupDevice.
type EnvOption func(*Env)

// WithFatalFunc replaces the handler of non-recoverable errors.
func WithFatalFunc(f FatalFunc) EnvOption {
	return func(e *Env) {
		if f != nil {
			e.fatal = f
		}
	}
}

// WithLatencySet makes databases opened from the Env record into set.
func WithLatencySet(set *latency.Set) EnvOption {
	return func(e *Env) {
		if set != nil {
			e.latency = set
		}
	}
}

// SetupDevice resolves the completion mode from cfg and initializes drv.
//
// Paths under /dev select the kernel driver, which uses polling mode when
// cfg.Device.Polling is set; any other path selects the user-space driver,
// which always uses queue mode. The keyspace API variant always uses queue
// mode and writes its environment file before initializing the driver.
func SetupDevice(cfg *config.Config, drv kvs.Driver, options ...EnvOption) (*Env, error) {
	e := &Env{
		cfg:   cfg,
		drv:   drv,
		api:   cfg.Device.API,
		fatal: defaultFatal,
		corr:  correlation.New(),
		dbs:   make(map[*Database]struct{}),
	}
	for _, o := range options {
		o(e)
	}
	if e.latency == nil {
		e.latency = latency.NewSet(cfg.Latency.MaxSample)
	}

	e.writeMode = IOAsync
	if cfg.Device.WriteMode == config.WriteModeSync {
		e.writeMode = IOSync
	}

	mask, core, err := affinity.CurrentCoreMask()
	if err != nil {
		log.Warn().Err(err).Msg("Could not determine master core")
	} else {
		log.Info().Int("core", core).Str("mask", fmt.Sprintf("%x", mask)).Msg("Master core")
	}
	if cfg.Device.PinIOCore && err == nil {
		if perr := affinity.Pin(core); perr != nil {
			log.Warn().Err(perr).Int("core", core).Msg("Could not pin issuing thread")
		}
	}

	userDriver := cfg.Device.UserDriver()
	polling := cfg.Device.Polling && !userDriver && e.api != config.APIKeyspace
	if polling {
		e.mode = ModePolling
	}

	e.opts = kvs.EnvOptions{
		QueueDepth:   cfg.Device.QueueDepth,
		AIOThreads:   cfg.Device.AIOThreads,
		IOCoreMask:   mask,
		UserDriver:   userDriver,
		Polling:      polling,
		SyncIO:       e.writeMode == IOSync,
		CoreMask:     cfg.Device.CoreMask,
		CQThreadMask: cfg.Device.CQThreadMask,
		MemSizeMB:    cfg.Device.MemSizeMB,
		ConfigFile:   cfg.Device.EmulatorConfigFile,
	}

	if e.api == config.APIKeyspace {
		if err := envconf.Write(cfg.Device.EnvConfigPath, envconf.FromOptions(e.opts)); err != nil {
			return nil, err
		}
		e.envFile = cfg.Device.EnvConfigPath
	}

	if err := drv.Init(e.opts); err != nil {
		if e.envFile != "" {
			_ = envconf.Remove(e.envFile)
		}
		return nil, fmt.Errorf("failed to initialize device environment: %w", err)
	}

	log.Info().
		Str("path", cfg.Device.Path).
		Str("api", e.api).
		Str("mode", e.mode.String()).
		Str("write_mode", e.writeMode.String()).
		Bool("user_driver", userDriver).
		Msg("Device init done")

	return e, nil
}

// Mode returns the completion delivery mode.
func (e *Env) Mode() EventMode { return e.mode }

// API returns the driver API variant.
func (e *Env) API() string { return e.api }

// Options returns the options the driver was initialized with.
func (e *Env) Options() kvs.EnvOptions { return e.opts }

// LatencyStats returns the Env's default latency set.
func (e *Env) LatencyStats() *latency.Set { return e.latency }

// Completions returns the number of completions seen since setup or the
// last reset.
func (e *Env) Completions() int64 { return e.completions.Load() }

// ResetCompletions zeroes the completion counter.
func (e *Env) ResetCompletions() { e.completions.Store(0) }

// Databases returns the open databases.
func (e *Env) Databases() []*Database {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Database, 0, len(e.dbs))
	for db := range e.dbs {
		out = append(out, db)
	}
	return out
}

func (e *Env) forget(db *Database) {
	e.mu.Lock()
	delete(e.dbs, db)
	e.mu.Unlock()
}

// Exit closes databases left open, tears down the driver and removes the
// environment file.
func (e *Env) Exit() error {
	var errs []error
	for _, db := range e.Databases() {
		log.Warn().Int("database", db.id).Msg("Closing database left open at exit")
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := e.drv.Exit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to exit device environment: %w", err))
	}

	if e.envFile != "" {
		if err := envconf.Remove(e.envFile); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Env) fatalf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	e.fatal(err)
	return err
}
