package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/mimeoapp/mimeo/internal/api"
	"github.com/mimeoapp/mimeo/internal/outbox"
	"github.com/mimeoapp/mimeo/internal/player"
	"github.com/mimeoapp/mimeo/internal/session"
	"github.com/mimeoapp/mimeo/internal/speech"
	"github.com/mimeoapp/mimeo/internal/store"
)

// app bundles the wired-up subsystems behind every command.
type app struct {
	logger   *log.Logger
	db       *store.Store
	client   *api.Client
	sessions *session.Store
	pending  *outbox.Queue
	engine   speech.Engine
	co       *player.Coordinator
	sched    *player.FlushScheduler
}

// flushRelay breaks the construction cycle between the coordinator,
// which wants a flush requester up front, and the scheduler, which
// wants the coordinator's flush function.
type flushRelay struct {
	mu     sync.Mutex
	target player.FlushRequester
}

func (r *flushRelay) set(target player.FlushRequester) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

func (r *flushRelay) RequestFlush() {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target.RequestFlush()
	}
}

// stringOpt resolves a string setting: explicit flag, then environment,
// then config file.
func stringOpt(viperKey, flagName, envVal string) string {
	if rootCmd.PersistentFlags().Changed(flagName) {
		return viper.GetString(viperKey)
	}
	if envVal != "" {
		return envVal
	}
	return viper.GetString(viperKey)
}

func dataDir() (string, error) {
	if envOpts.DataDir != "" {
		return envOpts.DataDir, nil
	}
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir, nil
	}
	scope := gap.NewScope(gap.User, "mimeo")
	dir, err := scope.DataPath("")
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return dir, nil
}

func newApp() (*app, error) {
	logger := log.Default()

	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := store.Open(filepath.Join(dir, "mimeo.db"), logger)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(
		stringOpt("server.base_url", "server", envOpts.BaseURL),
		stringOpt("server.token", "token", envOpts.Token),
	)
	sessions := session.NewStore(db, logger)
	pending := outbox.New(db, logger)

	var engine speech.Engine
	speakCmd := stringOpt("speech.command", "speak-cmd", envOpts.SpeechCommand)
	if speakCmd == "" {
		logger.Debug("no speech command configured, using silent engine")
		engine = speech.NewMockEngine()
	} else {
		cmdEngine, err := speech.NewCommandEngine(speakCmd, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		engine = cmdEngine
	}

	relay := &flushRelay{}
	co := player.New(client, db, sessions, pending, engine, logger, player.Config{
		DebounceInterval:        viper.GetDuration("playback.debounce"),
		CharStep:                viper.GetInt("playback.char_step"),
		NearEndThresholdPercent: viper.GetInt("playback.near_end_percent"),
		PrefetchCount:           viper.GetInt("playback.prefetch"),
		SettleDelay:             viper.GetDuration("speech.settle_delay"),
	}, player.WithFlushRequester(relay))

	sched := player.NewFlushScheduler(func(ctx context.Context) (bool, error) {
		result, err := co.FlushPending(ctx)
		return result.HasRetryableWork(), err
	}, logger, player.WithBackoff(
		viper.GetDuration("flush.backoff"),
		viper.GetDuration("flush.max_backoff"),
	))
	relay.set(sched)

	if cmdEngine, ok := engine.(*speech.CommandEngine); ok {
		cmdEngine.SetCallbackTarget(co.Driver())
	}

	return &app{
		logger:   logger,
		db:       db,
		client:   client,
		sessions: sessions,
		pending:  pending,
		engine:   engine,
		co:       co,
		sched:    sched,
	}, nil
}

func (a *app) Close() {
	a.sched.Stop()
	if err := a.co.Close(); err != nil {
		a.logger.Warn("close coordinator", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}
