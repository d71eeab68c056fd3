package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/realm/internal/admin"
	"github.com/vango-dev/realm/internal/config"
	realmerrors "github.com/vango-dev/realm/internal/errors"
	"github.com/vango-dev/realm/pkg/dispatch"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/scheduler"
	"github.com/vango-dev/realm/pkg/server"
)

type serveFlags struct {
	configPath     string
	host           string
	port           int
	readTimeout    time.Duration
	maxConnections int
	tickInterval   time.Duration
	adminAddr      string
	websocket      bool
	logLevel       string
	logFormat      string
}

func serveCmd() *cobra.Command {
	var f serveFlags
	return f.command()
}

// command builds the serve command bound to f.
func (f *serveFlags) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a realm server",
		Long: `Run the game listener, the tick scheduler and the admin HTTP server.

Settings come from realm.json (the nearest one at or above the
working directory, or --config) and are overridden by flags.

Examples:
  realm serve
  realm serve --port=7272 --max-connections=2000
  realm serve --admin-addr=:9171 --ws --log-format=json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to realm.json")
	fl.StringVarP(&f.host, "host", "H", "", "Host to bind the game listener to")
	fl.IntVarP(&f.port, "port", "p", 0, "Game listener port")
	fl.DurationVar(&f.readTimeout, "read-timeout", 0, "Disconnect peers silent for longer than this")
	fl.IntVar(&f.maxConnections, "max-connections", 0, "Maximum live connections (0 = unlimited)")
	fl.DurationVar(&f.tickInterval, "tick-interval", 0, "Wall-clock period of one server tick")
	fl.StringVar(&f.adminAddr, "admin-addr", "", `Admin HTTP address ("off" disables it)`)
	fl.BoolVar(&f.websocket, "ws", false, "Serve the WebSocket bridge at /ws on the admin server")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")

	return cmd
}

// load reads the configuration file and applies the flags the user set.
func (f *serveFlags) load(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.LoadFromWorkingDir()
	}
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Server.Host = f.host
	}
	if changed("port") {
		cfg.Server.Port = f.port
	}
	if changed("read-timeout") {
		cfg.Server.ReadTimeout = config.Duration(f.readTimeout)
	}
	if changed("max-connections") {
		cfg.Server.MaxConnections = f.maxConnections
	}
	if changed("tick-interval") {
		cfg.Scheduler.TickInterval = config.Duration(f.tickInterval)
	}
	if changed("admin-addr") {
		cfg.Admin.Addr = f.adminAddr
	}
	if changed("ws") {
		cfg.Admin.WebSocket = f.websocket
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is the composed server: registry, dispatcher, listener, scheduler
// tree and admin surface.
type app struct {
	config     *config.Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	listener   *server.Listener
	lobby      *lobby
	root       *scheduler.Hierarchy
	heartbeat  *scheduler.Scheduler
	admin      *admin.Server
}

func newApp(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := protocol.NewDefaultRegistry()

	d := dispatch.New(
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(dispatch.NewMetrics(reg, "")),
	)

	lb := newLobby(logger)
	if err := lb.register(d); err != nil {
		return nil, err
	}

	l, err := server.New(cfg.ListenerConfig(), registry, d,
		server.WithLogger(logger),
		server.WithObserver(d),
		server.WithAuthenticator(lb),
		server.WithMetrics(server.NewMetrics(reg)),
	)
	if err != nil {
		return nil, realmerrors.New("R103").Wrap(err)
	}
	lb.attach(l)

	schedMetrics := scheduler.NewMetrics(reg)
	root := scheduler.NewHierarchy(scheduler.Options{Name: "root", Logger: logger, Metrics: schedMetrics})

	a := &app{
		config:     cfg,
		logger:     logger,
		dispatcher: d,
		listener:   l,
		lobby:      lb,
		root:       root,
	}

	if ticks := cfg.Scheduler.HeartbeatTicks; ticks > 0 {
		a.heartbeat = scheduler.New(scheduler.Options{Name: "heartbeat", Logger: logger, Metrics: schedMetrics})
		a.heartbeat.PrepareTask(a.beat).
			Name("heartbeat").
			Delay(int64(ticks) - 1).
			Interval(int64(ticks)).
			Async(true).
			MustSchedule()
		root.Add(a.heartbeat)
	}

	if cfg.Admin.Enabled() {
		opts := []admin.Option{
			admin.WithLogger(logger),
			admin.WithRegistry(reg),
			admin.WithSchedulers(root),
		}
		if cfg.Admin.WebSocket {
			opts = append(opts, admin.WithWebSocket(l.WebSocketHandler()))
		}
		a.admin = admin.New(&admin.Config{Addr: cfg.Admin.Addr}, l, opts...)
	}

	return a, nil
}

// beat sends a Ping to every connection that has completed the
// handshake. Peers still in Open or Protocol are left to the handshake
// timeout.
func (a *app) beat(t *scheduler.Task) {
	ping := &protocol.Ping{Nonce: uint32(t.Runs()), SentAt: time.Now().UnixMilli()}

	var errs []error
	for _, info := range a.listener.Connections() {
		c, ok := a.listener.Connection(info.ID)
		if !ok {
			continue
		}
		if state := c.State(); state < server.StateConnected || !state.Live() {
			continue
		}
		if err := c.Send(ping, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Debug("heartbeat incomplete", "error", err)
	}
}

// run serves until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	lc := a.listener.Config()
	a.logger.Info("realm starting",
		"version", version,
		"addr", lc.Address(),
		"tick_interval", a.config.Scheduler.TickInterval.Std().String(),
		"admin_addr", a.config.Admin.Addr)

	a.root.Start()
	if a.heartbeat != nil {
		a.heartbeat.Start()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.listener.Start(ctx, lc.Host, lc.Port)
		if errors.Is(err, server.ErrListenerClosed) && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return realmerrors.New("R201").Wrap(err)
		}
		return nil
	})

	g.Go(func() error {
		err := scheduler.Drive(ctx, a.config.Scheduler.TickInterval.Std(), a.root)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.admin != nil {
		g.Go(func() error {
			if err := a.admin.ListenAndServe(ctx); err != nil {
				return realmerrors.New("R204").Wrap(err)
			}
			return nil
		})
	}

	err := g.Wait()

	a.root.Stop()
	if a.heartbeat != nil {
		a.heartbeat.Stop()
		a.heartbeat.Wait()
	}
	a.logger.Info("realm stopped")
	return err
}
