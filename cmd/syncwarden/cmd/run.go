package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"

	"github.com/psantana5/syncwarden/internal/api"
	"github.com/psantana5/syncwarden/internal/cgroups"
	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/instance"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/report"
	"github.com/psantana5/syncwarden/internal/shutdown"
	"github.com/psantana5/syncwarden/internal/state"
	"github.com/psantana5/syncwarden/internal/store"
	"github.com/psantana5/syncwarden/internal/tracing"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

const (
	shutdownTimeout  = 30 * time.Second
	logRotateEvery   = time.Hour
	logRotateMaxSize = 50 << 20
	eventBuffer      = 16
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor",
	Long: `Run the supervisor in the foreground.

The supervisor attaches to an already running daemon, optionally launches one
(auto_launch), keeps its status current and serves the local control API.
On SIGINT/SIGTERM the configured closure policy decides what is terminated.

Only one supervisor runs per application directory; a second one exits
immediately.

Example:
  syncwarden run
  syncwarden run --auto-launch --closure-policy close_all
  SYNCWARDEN_CONTROL_LISTEN=127.0.0.1:9000 syncwarden run`,
	RunE: runSupervisor,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("closure-policy", "", "close_all, close_managed or dont_close")
	flags.Bool("auto-launch", false, "launch the daemon at startup when none is running")
	flags.Duration("poll-interval", 0, "status poll interval")
	flags.Bool("tracing", false, "export traces over OTLP/HTTP")

	v.BindPFlag("closure_policy", flags.Lookup("closure-policy"))
	v.BindPFlag("auto_launch", flags.Lookup("auto-launch"))
	v.BindPFlag("poll_interval", flags.Lookup("poll-interval"))
	v.BindPFlag("tracing.enabled", flags.Lookup("tracing"))
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	dirs, err := appDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureExists(); err != nil {
		return err
	}

	logger, err := logging.NewFileLogger(dirs.LogDir(), "syncwarden", startupLevel(), jsonLogs)
	if err != nil {
		return err
	}
	defer logger.Close()

	lock := instance.New(dirs.LockFile())
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			logger.Warn("Another supervisor is already running", logging.Fields{
				"lock": lock.Path(),
				"pid":  instance.Holder(lock.Path()),
			})
			return nil
		}
		return err
	}

	cfg, _, written, err := loadConfig()
	if err != nil {
		lock.Release()
		return err
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	if written {
		logger.Info("Configuration written", logging.Fields{"path": configPath(dirs)})
	}

	session := uuid.NewString()
	logger = logger.WithField("session", session)
	logger.Info("Starting syncwarden", logging.Fields{
		"version":        version.Version,
		"executable":     cfg.ExecutablePath,
		"closure_policy": string(cfg.ClosurePolicy),
		"containment":    string(cfg.Containment),
		"app_dir":        dirs.Base,
	})

	sd := shutdown.New(shutdownTimeout, logger)
	// Steps run newest first: the lock is released last.
	sd.Register("instance lock", func(context.Context) error { return lock.Release() })

	tp, err := tracing.Init(tracing.Config{
		ServiceName:    "syncwarden",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		sd.Shutdown()
		return err
	}
	sd.Register("tracing", tp.Shutdown)

	journal := openJournal(cfg, dirs, logger)
	if journal != nil {
		sd.Register("journal", shutdown.CloseResource(journal))
	}

	metrics := report.NewMetrics()
	st := state.New(*cfg, state.Options{
		Wrapper:       wrapperOptions(cfg, logger),
		Metrics:       metrics,
		Logger:        logger,
		DetectOnQuery: true,
	})

	renderers := []state.Renderer{
		state.RendererFunc(func(_, cur state.Snapshot, source string) {
			metrics.Transition(source, cur.Running)
		}),
	}
	if journal != nil {
		renderers = append(renderers, store.NewRecorder(journal, session, logger))
	}
	consumer := state.NewConsumer(st, st.Subscribe(eventBuffer), cfg.PollEvery(), logger, renderers...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Status consumer stopped", logging.Fields{"error": err})
		}
	}()
	sd.Register("state", func(ctx context.Context) error {
		st.Close()
		select {
		case <-consumerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	sd.Register("closure policy", func(ctx context.Context) error {
		st.ApplyClosurePolicy(ctx)
		return nil
	})

	if spawned, err := st.CheckAndAutostart(ctx); err != nil {
		logger.Error("Auto-launch failed", logging.Fields{"error": err})
	} else if spawned {
		logger.Info("Auto-launched daemon", logging.Fields{"pid": st.Snapshot().PID})
	}

	if cfg.Control.Listen != "" {
		server, err := serveControl(cfg, st, journal, metrics, tp, sd, logger)
		if err != nil {
			sd.Shutdown()
			return err
		}
		sd.Register("control server", shutdown.StopHTTPServer(server))
	}

	go rotateLogs(ctx, logger)

	sd.Wait(ctx)
	return nil
}

func wrapperOptions(cfg *config.Config, logger *logging.Logger) wrapper.Options {
	opts := wrapper.Options{Logger: logger}
	if cfg.Containment == config.ContainCgroup {
		mgr := cgroups.New("", "")
		if mgr.Version() == 2 {
			opts.Cgroups = mgr
		} else {
			logger.Warn("cgroup v2 unavailable, using process groups")
		}
	}
	return opts
}

// openJournal opens the SQLite journal, falling back to memory when the
// database cannot be opened.
func openJournal(cfg *config.Config, dirs config.Dirs, logger *logging.Logger) store.Journal {
	if !cfg.Journal.Enabled {
		return nil
	}
	path := cfg.Journal.Path
	if path == "" {
		path = dirs.JournalFile()
	}
	j, err := store.NewSQLiteJournal(path, cfg.Journal.Retain)
	if err != nil {
		logger.Warn("Journal unavailable, keeping history in memory", logging.Fields{"path": path, "error": err})
		return store.NewMemoryJournal(cfg.Journal.Retain)
	}
	return j
}

func serveControl(cfg *config.Config, st *state.AppState, journal store.Journal, metrics *report.Metrics,
	tp *tracing.Provider, sd *shutdown.Manager, logger *logging.Logger) (*http.Server, error) {
	h := api.NewHandler(st, version.Version, logger)
	if journal != nil {
		h.SetJournal(journal)
	}
	if cfg.Metrics.Enabled {
		h.SetMetricsHandler(metrics.Handler())
	}
	router := api.NewRouter(h, api.RouterOptions{
		Auth:    api.NewAuthenticator(cfg.Control.APIKey, cfg.Control.APIKeyHash),
		Limiter: api.NewLimiter(cfg.Control.RateLimit, cfg.Control.Burst),
		Tracing: tp,
	})

	ln, err := net.Listen("tcp", cfg.Control.Listen)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StopTimeout.Std() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control API failed", logging.Fields{"error": err})
			sd.Trigger()
		}
	}()
	logger.Info("Control API listening", logging.Fields{
		"addr": ln.Addr().String(),
		"auth": cfg.Control.APIKey != "" || cfg.Control.APIKeyHash != "",
	})
	return server, nil
}

func rotateLogs(ctx context.Context, logger *logging.Logger) {
	ticker := time.NewTicker(logRotateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := logger.RotateIfNeeded(logRotateMaxSize); err != nil {
				logger.Warn("Log rotation failed", logging.Fields{"error": err})
			}
		}
	}
}
