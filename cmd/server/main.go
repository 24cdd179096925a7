package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/api"
	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/config"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/fleet"
	"github.com/shiftwatch/shiftwatch/pkg/monitor"
	"github.com/shiftwatch/shiftwatch/pkg/monitoring"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/schedule"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

const (
	modeMigrate  = "migrate"
	modeRollback = "rollback"
	modeServer   = "server"
	modeSingle   = "single"

	_shutdownHardPeriod = 3 * time.Second
	_shutdownPeriod     = 10 * time.Second
	_dbConnectTimeout   = 30 * time.Second

	_defaultReconcileInterval   = 30 * time.Minute
	_defaultHealthCheckInterval = 1 * time.Minute
)

var (
	GitCommit    string
	flagMode     = flag.String("mode", "", strings.Join([]string{modeMigrate, modeRollback, modeServer, modeSingle}, " | "))
	envFileFlag  = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	versionFlag  = flag.Bool("version", false, "Print version and exit")
	userFlag     = flag.String("user", "", "User name for single mode")
	certFileFlag = flag.String("certfile", "cert/cert.crt", "certificate PEM file")
	keyFileFlag  = flag.String("keyfile", "cert/key.key", "key PEM file")
	env          *common.EnvMap
)

func listenAddress(cfg common.ConfigStore) string {
	host := cfg.Get(common.HostKey).Value()

	port := cfg.Get(common.PortKey).Value()
	if port == "" {
		port = "3000"
	}

	return net.JoinHostPort(host, port)
}

func createListener(ctx context.Context, cfg common.ConfigStore) (net.Listener, error) {
	address := listenAddress(cfg)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to listen", "address", address, common.ErrAttr(err))
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(*certFileFlag, *keyFileFlag)
	if err != nil {
		stage := cfg.Get(common.StageKey).Value()
		if stage == common.StageDev || stage == common.StageTest {
			slog.WarnContext(ctx, "Serving without TLS", "cert", *certFileFlag, "key", *keyFileFlag, common.ErrAttr(err))
			return listener, nil
		}

		listener.Close()
		slog.ErrorContext(ctx, "Failed to load TLS keypair", "cert", *certFileFlag, "key", *keyFileFlag, common.ErrAttr(err))
		return nil, fmt.Errorf("failed to load TLS keypair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	return tls.NewListener(listener, tlsConfig), nil
}

// healthCheckJob pings Postgres periodically and backs the liveness and
// readiness endpoints of the local API.
type healthCheckJob struct {
	store    *db.UserStore
	metrics  *monitoring.Service
	interval time.Duration

	mux     sync.RWMutex
	healthy bool
}

func (j *healthCheckJob) Name() string            { return "healthcheck" }
func (j *healthCheckJob) NewParams() any          { return nil }
func (j *healthCheckJob) Interval() time.Duration { return j.interval }
func (j *healthCheckJob) Timeout() time.Duration  { return j.interval / 2 }
func (j *healthCheckJob) Jitter() time.Duration   { return time.Second }
func (j *healthCheckJob) Trigger() <-chan struct{} {
	return nil
}

func (j *healthCheckJob) RunOnce(ctx context.Context, params any) error {
	err := j.store.Ping(ctx)
	healthy := err == nil

	j.mux.Lock()
	j.healthy = healthy
	j.mux.Unlock()

	j.metrics.ObservePostgresHealth(healthy)

	if err != nil {
		slog.WarnContext(ctx, "Database ping failed", common.ErrAttr(err))
	}

	return err
}

func (j *healthCheckJob) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (j *healthCheckJob) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	j.mux.RLock()
	healthy := j.healthy
	j.mux.RUnlock()

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func createDeps(ctx context.Context, cfg common.ConfigStore, metrics fleet.Metrics) (fleet.Deps, *db.UserStore, func(), error) {
	pool, dberr := db.Connect(ctx, cfg, _dbConnectTimeout)
	if dberr != nil {
		return fleet.Deps{}, nil, nil, dberr
	}

	cipher := db.NewCipher(cfg.Get(common.PasswordSecretKey).Value())
	defaultPropertiesID := config.AsInt(cfg.Get(common.DefaultPropertiesIDKey), 1)

	store, err := db.NewUserStore(pool, cipher, int32(defaultPropertiesID))
	if err != nil {
		pool.Close()
		return fleet.Deps{}, nil, nil, err
	}

	clock := common.NewSystemClock()

	portalURL := cfg.Get(common.SeleniumURLKey).Value()
	skipBroken := config.AsBool(cfg.Get(common.SkipBrokenKey))
	portalScraper := scraper.NewPortalScraper(portalURL, nil /*fallbacks*/, skipBroken, clock)

	notifier := notify.NewMailNotifier(notify.NewSMTPSender())

	var monitors monitor.Client = monitor.NewRecordingClient()
	if props, perr := store.DefaultProperties(ctx); perr != nil {
		slog.WarnContext(ctx, "Failed to load default properties", common.ErrAttr(perr))
	} else if len(props.Kuma.ServerURL) > 0 {
		monitors = monitor.NewKumaClient(&props.Kuma)
	} else {
		slog.InfoContext(ctx, "No monitor server configured, mirroring in memory")
	}

	deps := fleet.Deps{
		Store:    store,
		Scraper:  portalScraper,
		Notifier: notifier,
		Monitors: monitors,
		Clock:    clock,
		Metrics:  metrics,
	}

	return deps, store, pool.Close, nil
}

func run(ctx context.Context, cfg common.ConfigStore, stderr io.Writer, listener net.Listener) error {
	stage := cfg.Get(common.StageKey).Value()
	verbose := config.AsBool(cfg.Get(common.VerboseKey))
	logLevel := common.SetupLogs(stage, verbose)

	metrics := monitoring.NewService()

	deps, store, closeDB, err := createDeps(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer closeDB()

	reconcileInterval := config.AsDuration(cfg.Get(common.ReconcileIntervalKey), _defaultReconcileInterval)
	watchdog := fleet.NewWatchdog(deps, reconcileInterval)

	scheduler := schedule.NewScheduler(watchdog, deps.Clock)

	apiServer := &api.Server{
		Stage:    stage,
		Watchdog: watchdog,
		Cipher:   store.Cipher(),
		APIKey:   db.NewSecret(cfg.Get(common.APIKeyKey).Value()),
		Metrics:  metrics,
	}

	router := http.NewServeMux()
	apiServer.Setup(router)
	router.Handle("/", common.Recovered(http.HandlerFunc(common.CatchAll)))

	updateConfigFunc := func(ctx context.Context) {
		cfg.Update(ctx)
		verboseLogs := config.AsBool(cfg.Get(common.VerboseKey))
		common.SetLogLevel(logLevel, verboseLogs)
	}
	updateConfigFunc(ctx)

	ongoingCtx, stopOngoing := context.WithCancel(context.Background())
	defer stopOngoing()

	var background sync.WaitGroup

	background.Add(1)
	go func() {
		defer background.Done()
		watchdog.Run(ongoingCtx)
	}()

	background.Add(1)
	go func() {
		defer background.Done()
		scheduler.Run(ongoingCtx)
	}()

	healthCheck := &healthCheckJob{
		store:    store,
		metrics:  metrics,
		interval: config.AsDuration(cfg.Get(common.HealthCheckIntervalKey), _defaultHealthCheckInterval),
	}

	background.Add(1)
	go func() {
		defer background.Done()
		common.RunPeriodicJob(common.TraceContext(ongoingCtx, healthCheck.Name()), healthCheck)
	}()

	quit := make(chan struct{})
	quitFunc := func(ctx context.Context) {
		slog.DebugContext(ctx, "Server quit triggered")
		close(quit)
	}

	go func(ctx context.Context) {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer func() {
			signal.Stop(signals)
			close(signals)
		}()
		for {
			sig, ok := <-signals
			if !ok {
				return
			}
			slog.DebugContext(ctx, "Received signal", "signal", sig)
			switch sig {
			case syscall.SIGHUP:
				if uerr := env.Update(); uerr != nil {
					slog.ErrorContext(ctx, "Failed to update environment", common.ErrAttr(uerr))
				}
				updateConfigFunc(ctx)
			case syscall.SIGINT, syscall.SIGTERM:
				quitFunc(ctx)
				return
			}
		}
	}(common.TraceContext(context.Background(), "signal_handler"))

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1024 * 1024,
		BaseContext: func(_ net.Listener) context.Context {
			return ongoingCtx
		},
	}

	go func() {
		slog.InfoContext(ctx, "Listening", "address", listener.Addr().String(), "version", GitCommit, "stage", stage)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "Error serving", common.ErrAttr(err))
		}
	}()

	var localServer *http.Server
	if localAddress := cfg.Get(common.LocalAddressKey).Value(); len(localAddress) > 0 {
		localRouter := http.NewServeMux()
		metrics.Setup(localRouter)
		localRouter.Handle(http.MethodGet+" /"+common.LiveEndpoint, common.Recovered(http.HandlerFunc(healthCheck.LiveHandler)))
		localRouter.Handle(http.MethodGet+" /"+common.ReadyEndpoint, common.Recovered(http.HandlerFunc(healthCheck.ReadyHandler)))
		localServer = &http.Server{
			Addr:    localAddress,
			Handler: localRouter,
		}
		go func() {
			slog.InfoContext(ctx, "Serving local API", "address", localServer.Addr)
			if err := localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.ErrorContext(ctx, "Error serving local API", common.ErrAttr(err))
			}
		}()
	} else {
		slog.DebugContext(ctx, "Skipping serving local API")
	}

	<-quit
	slog.DebugContext(ctx, "Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()

	httpServer.SetKeepAlivesEnabled(false)
	serr := httpServer.Shutdown(shutdownCtx)

	// scheduler and watchdog first; the watchdog drains every instance
	stopOngoing()
	background.Wait()

	if serr != nil {
		slog.ErrorContext(ctx, "Failed to shutdown gracefully", common.ErrAttr(serr))
		fmt.Fprintf(stderr, "error shutting down http server gracefully: %s\n", serr)
		time.Sleep(_shutdownHardPeriod)
	}
	if localServer != nil {
		localServer.Close()
	}

	slog.DebugContext(ctx, "Shutdown finished")
	return nil
}

// single runs one scrape for one user and exits; useful for cron setups
// and manual retries.
func single(ctx context.Context, cfg common.ConfigStore, userName string) error {
	if len(userName) == 0 {
		return errors.New("single mode requires -user")
	}

	stage := cfg.Get(common.StageKey).Value()
	verbose := config.AsBool(cfg.Get(common.VerboseKey))
	common.SetupLogs(stage, verbose)

	deps, store, closeDB, err := createDeps(ctx, cfg, monitoring.NewStub())
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := store.GetUserByName(ctx, userName)
	if err != nil {
		return err
	}

	props, err := store.EffectiveProperties(ctx, user)
	if err != nil {
		return err
	}

	instance := fleet.NewInstance(user, props, deps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		instance.Run(ctx)
	}()

	resp, err := instance.Request(ctx, fleet.StartRequest{Kind: fleet.SingleRequest}, api.ResponseTimeout)
	if err != nil {
		return err
	}
	if !resp.Active {
		return errors.New("single run was not launched")
	}

	<-done
	return nil
}

func migrate(ctx context.Context, cfg common.ConfigStore, up bool) error {
	stage := cfg.Get(common.StageKey).Value()
	verbose := config.AsBool(cfg.Get(common.VerboseKey))

	common.SetupLogs(stage, verbose)
	slog.InfoContext(ctx, "Migrating", "up", up, "version", GitCommit, "stage", stage)

	pool, dberr := db.Connect(ctx, cfg, _dbConnectTimeout)
	if dberr != nil {
		return dberr
	}
	defer pool.Close()

	return db.MigratePostgres(ctx, pool, up)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Print(GitCommit)
		return
	}

	if perr := common.CheckEnvFilePermissions(*envFileFlag); perr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", perr)
		os.Exit(1)
	}

	var err error
	env, err = common.NewEnvMap(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}

	cfg := config.NewEnvConfig(env.Get)

	switch *flagMode {
	case modeServer:
		ctx := common.TraceContext(context.Background(), "main")
		if listener, lerr := createListener(ctx, cfg); lerr == nil {
			err = run(ctx, cfg, os.Stderr, listener)
		} else {
			err = lerr
		}
	case modeSingle:
		ctx := common.TraceContext(context.Background(), "single")
		err = single(ctx, cfg, *userFlag)
	case modeMigrate:
		ctx := common.TraceContext(context.Background(), "migration")
		err = migrate(ctx, cfg, true /*up*/)
	case modeRollback:
		ctx := common.TraceContext(context.Background(), "migration")
		err = migrate(ctx, cfg, false /*up*/)
	default:
		err = fmt.Errorf("unknown mode: '%s'", *flagMode)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
