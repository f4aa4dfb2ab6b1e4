package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strefethen/agrisound-hub-go/internal/activity"
	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/arm"
	"github.com/strefethen/agrisound-hub-go/internal/clock"
	"github.com/strefethen/agrisound-hub-go/internal/config"
	"github.com/strefethen/agrisound-hub-go/internal/db"
	"github.com/strefethen/agrisound-hub-go/internal/device"
	"github.com/strefethen/agrisound-hub-go/internal/live"
	"github.com/strefethen/agrisound-hub-go/internal/periodic"
	"github.com/strefethen/agrisound-hub-go/internal/playback"
	"github.com/strefethen/agrisound-hub-go/internal/reconcile"
	"github.com/strefethen/agrisound-hub-go/internal/remote"
	"github.com/strefethen/agrisound-hub-go/internal/scheduler"
	"github.com/strefethen/agrisound-hub-go/internal/schedules"
	"github.com/strefethen/agrisound-hub-go/internal/seed"
	"github.com/strefethen/agrisound-hub-go/internal/sounds"
	"github.com/strefethen/agrisound-hub-go/internal/system"
	"github.com/strefethen/agrisound-hub-go/internal/unit"
)

// Job names registered on the periodic runner besides the engine tick.
const (
	JobReconcile = "remote.reconcile"
	JobPruneLogs = "activity.prune"

	pruneInterval = time.Hour
)

// Options controls server wiring. Zero values select the configured defaults.
type Options struct {
	// Store replaces the configured shared store.
	Store remote.Store
	// Player replaces the MQTT bridge or simulated player.
	Player playback.Player
	// Clock replaces the fixed-zone clock.
	Clock clock.Provider
	// DisableBackground skips the periodic runner and the initial reconcile.
	DisableBackground bool
	// OneShot wires a short-lived CLI command next to a hub that may be
	// serving the same database. Device recovery is skipped, the MQTT client
	// gets its own id and arm state is not republished to the unit.
	OneShot bool
}

// App is the fully wired hub.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	dbPair     *db.DBPair
	store      remote.Store
	redis      *remote.RedisStore
	mqtt       *unit.Client
	schedules  *schedules.Service
	sounds     *sounds.Service
	device     *device.Service
	gate       *device.AudioGate
	activity   *activity.Service
	arm        *arm.Controller
	executor   *playback.Executor
	engine     *scheduler.Engine
	reconciler *reconcile.Reconciler
	hub        *live.Hub
	runner     *periodic.Runner
	router     chi.Router

	cancel context.CancelFunc
}

// New opens the local cache and wires every component. Nothing runs in the
// background until Start.
func New(ctx context.Context, cfg config.Config, options Options, logger zerolog.Logger) (*App, error) {
	logger.Info().Str("path", cfg.SQLiteDBPath).Msg("using database")
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, err
	}

	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{cfg: cfg, logger: logger, dbPair: dbPair, cancel: cancel}
	if err := app.wire(appCtx, options); err != nil {
		app.release()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, options Options) error {
	cfg := a.cfg
	logger := a.logger

	switch {
	case options.Store != nil:
		a.store = options.Store
	case cfg.RedisAddr != "":
		a.redis = remote.NewRedisStore(remote.RedisOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RemotePrefix,
			Origin:   remoteOrigin(cfg),
		}, logger)
		a.store = a.redis
	default:
		logger.Info().Msg("no shared store configured, running local-only")
		a.store = remote.NewMemoryStore()
	}

	a.schedules = schedules.NewService(schedules.NewRepository(a.dbPair), a.store, logger)
	a.sounds = sounds.NewService(sounds.NewRepository(a.dbPair), a.store, logger)
	a.device = device.NewService(device.NewRepository(a.dbPair), a.store, logger)
	a.activity = activity.NewService(activity.NewRepository(a.dbPair), a.cfg.LogRetentionDays, logger)

	controller, err := arm.NewController(ctx, arm.NewRepository(a.dbPair), a.store, logger)
	if err != nil {
		return fmt.Errorf("load arm flags: %w", err)
	}
	a.arm = controller

	zone := options.Clock
	if zone == nil {
		zone = clock.NewFixedZone(cfg.TZName, cfg.TZOffsetMinutes)
	}

	player := options.Player
	if player == nil {
		player, err = a.newPlayer(ctx, options.OneShot)
		if err != nil {
			return err
		}
	}

	a.executor = playback.NewExecutor(a.sounds, a.schedules, a.device, a.activity, player, playback.Options{
		WakeDelay:  cfg.WakeDelay(),
		CyclePause: cfg.CyclePause(),
	}, logger)

	gate := device.NewAudioGate(cfg.AudioUnlocked)
	a.gate = gate
	a.engine, err = scheduler.NewEngine(scheduler.Deps{
		Schedules: a.schedules,
		Device:    a.device,
		Flags:     a.arm,
		Executor:  a.executor,
		Gate:      gate,
		Clock:     zone,
	}, scheduler.Options{
		TickInterval:   cfg.TickInterval(),
		LookAheadMin:   cfg.LookAheadMinMinutes,
		LookAheadMax:   cfg.LookAheadMaxMinutes,
		RefireGap:      cfg.RefireGap(),
		QuietThreshold: cfg.QuietThreshold(),
		AutoDisarm:     cfg.AutoDisarmEnabled,
	}, logger)
	if err != nil {
		return err
	}

	a.reconciler = reconcile.NewReconciler(a.store, a.schedules.Repository(), a.sounds.Repository(), a.arm, logger)
	a.runner = periodic.NewRunner(ctx, logger)
	a.hub = live.NewHub(logger)
	a.wireLive(ctx)

	var pinger system.RemotePinger
	if a.redis != nil || options.Store != nil {
		pinger = a.store
	}
	systemService := system.NewService(system.Deps{
		DB:        a.dbPair,
		Remote:    pinger,
		Device:    a.device,
		Flags:     a.arm,
		Gate:      gate,
		Schedules: a.schedules,
		Sounds:    a.sounds,
		Logs:      a.activity,
		Scheduler: a.engine,
		Viewers:   func() int { return a.hub.Status().Clients },
		Clock:     zone,
	}, logger)

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware(logger))
	router.Use(api.RequestLoggerMiddleware(logger))
	router.Use(api.RecovererMiddleware(logger))

	registerHealthRoutes(router)
	schedules.RegisterRoutes(router, a.schedules)
	sounds.RegisterRoutes(router, a.sounds)
	device.RegisterRoutes(router, a.device, gate)
	activity.RegisterRoutes(router, a.activity, zoneLocation(zone))
	arm.RegisterRoutes(router, a.arm)
	reconcile.RegisterRoutes(router, a.reconciler)
	playback.RegisterRoutes(router, a.executor)
	scheduler.RegisterRoutes(router, a.engine)
	seed.RegisterRoutes(router, a.sounds, a.schedules, logger)
	live.RegisterRoutes(router, a.hub)
	system.RegisterRoutes(router, systemService)
	a.router = router

	if options.OneShot {
		return nil
	}
	if _, err := a.device.Recover(ctx, time.Now()); err != nil {
		return fmt.Errorf("recover device state: %w", err)
	}
	return nil
}

// remoteOrigin identifies this process on the flags channel so it can skip
// its own echoes without dropping events from other hubs.
func remoteOrigin(cfg config.Config) string {
	if cfg.RemoteOrigin != "" {
		return cfg.RemoteOrigin
	}
	return uuid.NewString()
}

// mqttClientID keeps one-shot commands from taking over the serving hub's broker session.
func mqttClientID(cfg config.Config, oneShot bool) string {
	if !oneShot {
		return cfg.MQTTClientID
	}
	return cfg.MQTTClientID + "-cli-" + uuid.NewString()[:8]
}

// newPlayer connects to the unit over MQTT, or simulates playback when no broker is set.
func (a *App) newPlayer(ctx context.Context, oneShot bool) (playback.Player, error) {
	cfg := a.cfg
	if cfg.MQTTBroker == "" {
		a.logger.Info().Msg("no MQTT broker configured, using simulated player")
		return playback.NewSimulatedPlayer(time.Duration(cfg.SimulatedPlaybackMs) * time.Millisecond), nil
	}

	clientID := mqttClientID(cfg, oneShot)
	client, err := unit.NewClient(unit.ClientOptions{
		Broker:    cfg.MQTTBroker,
		ClientID:  clientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		WillTopic: "agrisound/hubs/" + clientID + "/status",
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.mqtt = client

	bridge := unit.NewBridge(client, cfg.UnitID, a.device, unit.BridgeOptions{
		StartTimeout: time.Duration(cfg.PlaybackStartTimeoutMs) * time.Millisecond,
		MaxPlayback:  time.Duration(cfg.PlaybackMaxMs) * time.Millisecond,
	}, a.logger)
	if err := bridge.Start(); err != nil {
		return nil, fmt.Errorf("subscribe to unit topics: %w", err)
	}
	if oneShot {
		return bridge, nil
	}

	changes, unsubscribe := a.arm.Subscribe()
	go func() {
		defer unsubscribe()
		bridge.FollowArm(ctx, a.arm.Snapshot(), changes)
	}()
	return bridge, nil
}

// wireLive forwards device, arm and activity changes to websocket viewers.
func (a *App) wireLive(ctx context.Context) {
	a.hub.OnConnect(func() []live.Event {
		events := []live.Event{{Type: live.EventArm, Data: arm.Format(a.arm.Snapshot()), At: time.Now()}}
		if state, err := a.device.Get(context.Background()); err == nil {
			events = append(events, live.Event{Type: live.EventDevice, Data: device.Format(state, a.gate.Unlocked()), At: time.Now()})
		}
		return events
	})
	a.device.OnChange(func(state device.State) {
		a.hub.Publish(live.EventDevice, device.Format(state, a.gate.Unlocked()))
	})
	a.activity.OnAppend(func(entry activity.PlaybackLog) {
		a.hub.Publish(live.EventActivity, activity.Format(entry))
	})

	changes, unsubscribe := a.arm.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				a.hub.Publish(live.EventArm, arm.Format(change.Flags))
			}
		}
	}()
}

// Start adopts the shared flags, applies the seed file, runs the first
// reconcile and starts the periodic jobs.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.SeedFile != "" {
		if _, err := a.ApplySeed(ctx, a.cfg.SeedFile); err != nil {
			return err
		}
	}

	a.arm.Start(ctx)
	if _, err := a.reconciler.Run(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("initial reconcile incomplete")
	}

	a.engine.Start(a.runner)
	a.runner.Every(JobReconcile, a.cfg.ReconcileInterval(), func(ctx context.Context) {
		if _, err := a.reconciler.Run(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("reconcile incomplete")
		}
	})
	a.runner.Every(JobPruneLogs, pruneInterval, func(ctx context.Context) {
		if _, err := a.activity.Prune(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to prune playback logs")
		}
	})
	a.runner.Start()
	return nil
}

// ApplySeed loads a YAML manifest from path into the local cache and the shared store.
func (a *App) ApplySeed(ctx context.Context, path string) (seed.Report, error) {
	manifest, err := seed.Load(path)
	if err != nil {
		return seed.Report{}, err
	}
	report, err := seed.Apply(ctx, manifest, a.sounds, a.schedules, a.logger)
	if err != nil {
		return report, fmt.Errorf("apply seed %s: %w", path, err)
	}
	a.logger.Info().
		Str("path", path).
		Int("sounds", report.Sounds).
		Int("schedules", report.Schedules).
		Int("warnings", len(report.Warnings)).
		Msg("seed applied")
	return report, nil
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler { return a.router }

// Engine returns the scheduling engine.
func (a *App) Engine() *scheduler.Engine { return a.engine }

// Reconciler returns the shared store reconciler.
func (a *App) Reconciler() *reconcile.Reconciler { return a.reconciler }

// Shutdown stops the periodic jobs, waits for in-flight playback, then
// releases every connection.
func (a *App) Shutdown(ctx context.Context) error {
	a.engine.Stop()
	select {
	case <-a.runner.Stop().Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		a.executor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn().Msg("shutdown deadline reached with playback still running")
	}

	return a.release()
}

func (a *App) release() error {
	a.cancel()
	if a.hub != nil {
		a.hub.Close()
	}
	if a.arm != nil {
		a.arm.Stop()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}

	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.dbPair.Close())
	return errors.Join(errs...)
}

// NewHandler builds the HTTP handler, starts the background jobs and returns a shutdown function.
func NewHandler(ctx context.Context, cfg config.Config, options Options, logger zerolog.Logger) (http.Handler, func(context.Context) error, error) {
	app, err := New(ctx, cfg, options, logger)
	if err != nil {
		return nil, nil, err
	}
	if !options.DisableBackground {
		if err := app.Start(ctx); err != nil {
			_ = app.release()
			return nil, nil, err
		}
	}
	return app.Handler(), app.Shutdown, nil
}

func zoneLocation(p clock.Provider) *time.Location {
	return p.Now().Time.Location()
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "agrisound-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
