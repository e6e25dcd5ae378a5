package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/control"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/planner"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/teams"
)

// clients shares API clients between apps with the same credentials.
var clients = api.NewClientCache()

// eventBuffer is the size of the trace event channel.
const eventBuffer = 256

// app is the wired set of components behind the run and resume commands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	journal    *state.Journal
	gateway    *api.Gateway
	registry   *registry.Registry
	planner    *planner.Planner
	supervisor *orchestrator.Supervisor
	events     *orchestrator.EventEmitter
}

type appOptions struct {
	// trace creates an event emitter for the supervisor.
	trace bool
	// offline skips the gateway: keyword planning and local teams only.
	offline bool
	// journalPath overrides the configured journal location.
	journalPath string
}

func newApp(cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if !opts.offline {
		gw, err := newGateway(cfg, logger)
		switch {
		case errors.Is(err, config.ErrNoAPIKey), errors.Is(err, api.ErrNoCredentials):
			logger.Warn("no model credentials, running with keyword planning and local teams only")
		case err != nil:
			return nil, err
		default:
			a.gateway = gw
		}
	}

	path := opts.journalPath
	if path == "" {
		path = journalPath(cfg)
	}
	journal, err := state.OpenJournal(path, state.WithLogger(logger.Named("journal")))
	if err != nil {
		return nil, err
	}
	a.journal = journal

	// A nil *api.Gateway must not reach the interfaces below as a non-nil value.
	var completer interface {
		teams.JSONCompleter
		orchestrator.Completer
	}
	if a.gateway != nil {
		completer = a.gateway
	}

	a.registry = registry.New(registry.WithLogger(logger.Named("registry")))
	teams.RegisterDefaults(a.registry, completer, teams.WithLogger(logger.Named("teams")))

	a.planner = planner.New(planner.Config{
		Registry:            a.registry,
		Gateway:             completer,
		ConfidenceThreshold: cfg.Planner.ConfidenceThreshold,
		DisabledTeams:       cfg.Planner.DisabledTeams,
		Logger:              logger.Named("planner"),
	})

	supOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Named("supervisor")),
		orchestrator.WithMaxParallel(cfg.Supervisor.MaxParallel),
		orchestrator.WithDefaults(orchestrator.ContextOptions{
			Language:       cfg.Supervisor.Language,
			DebugMode:      cfg.Supervisor.Debug,
			TraceEnabled:   cfg.Supervisor.Trace,
			TimeoutSeconds: cfg.Supervisor.TimeoutSeconds(),
			RecursionLimit: cfg.Supervisor.RecursionLimit,
		}),
	}
	if cfg.Supervisor.SynthesizeAnswer && completer != nil {
		supOpts = append(supOpts, orchestrator.WithSynthesizer(completer))
	}
	if opts.trace || cfg.Supervisor.Trace {
		a.events = orchestrator.NewEventEmitter(eventBuffer, logger.Named("events"))
		supOpts = append(supOpts, orchestrator.WithEvents(a.events))
	}

	a.supervisor = orchestrator.New(orchestrator.RequiredConfig{
		Planner:  a.planner,
		Registry: a.registry,
		Journal:  a.journal,
	}, supOpts...)
	return a, nil
}

// newGateway builds the LLM gateway from the anthropic and gateway config
// sections.
func newGateway(cfg *config.Config, logger *zap.Logger) (*api.Gateway, error) {
	var key string
	if !cfg.Anthropic.UseBedrock {
		k, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		key = k
	}

	client, err := clients.Get(api.ClientConfig{
		Model:         anthropic.Model(cfg.Gateway.DefaultModel),
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}

	prompts := api.NewPromptLibrary()
	if cfg.Gateway.PromptsFile != "" {
		if err := prompts.LoadFile(cfg.Gateway.PromptsFile); err != nil {
			return nil, err
		}
	}

	return api.NewGateway(api.GatewayConfig{
		Provider:     client,
		Prompts:      prompts,
		DefaultModel: string(client.Model()),
		Models:       cfg.Gateway.Models,
		MaxAttempts:  cfg.Gateway.MaxAttempts,
		BaseDelay:    cfg.Gateway.BackoffBase,
		MaxDelay:     cfg.Gateway.BackoffMax,
		MaxTokens:    cfg.Gateway.MaxTokens,
		Temperature:  cfg.Gateway.Temperature,
		Logger:       logger.Named("gateway"),
		Tracker:      client.Tracker(),
	})
}

// journalPath picks the journal database: the --journal flag, then
// journal.path, then a project journal if one exists, then the global one.
func journalPath(cfg *config.Config) string {
	if journalFlag != "" {
		return journalFlag
	}
	if cfg != nil && cfg.Journal.Path != "" {
		return cfg.Journal.Path
	}
	if cwd, err := os.Getwd(); err == nil {
		project := state.ProjectDBPath(cwd)
		if _, err := os.Stat(project); err == nil {
			return project
		}
	}
	return state.GlobalDBPath()
}

// controlRoot is the directory holding the run control files. It sits
// next to the journal so every process sharing a journal sees them.
func controlRoot(j *state.Journal) string {
	return filepath.Dir(j.DB().Path())
}

// watchCancel returns a context that 'relay cancel <runID>' cancels.
// Without a watcher the run still stops on SIGINT and SIGTERM.
func (a *app) watchCancel(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, stop, err := control.Watch(ctx, controlRoot(a.journal), runID, a.logger.Named("control"))
	if err != nil {
		a.logger.Warn("cancel requests disabled for this run", zap.String("run_id", runID), zap.Error(err))
		return ctx, func() {}
	}
	return runCtx, stop
}

// streamEvents prints trace events to w until the emitter is closed. The
// returned channel is closed once every event has been printed.
func (a *app) streamEvents(w io.Writer) <-chan struct{} {
	done := make(chan struct{})
	if a.events == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		for ev := range a.events.Events() {
			printEvent(w, ev)
		}
	}()
	return done
}

// Close stops the event stream and closes the journal.
func (a *app) Close() error {
	if a.events != nil {
		a.events.Close()
	}
	return a.journal.Shutdown()
}

// usage reports gateway token use, or false when there is no gateway.
func (a *app) usage() (input, output int64, cost float64, ok bool) {
	if a.gateway == nil {
		return 0, 0, 0, false
	}
	t := a.gateway.Tracker()
	input, output = t.Total()
	return input, output, t.Cost(), true
}
