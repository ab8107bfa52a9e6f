// sacredlobby is a lobby server for Sacred and Sacred Underworld.
//
// Game clients log in, chat in channels and browse the game server list;
// game servers register themselves and receive character save data. The
// lobby speaks the TinCat transport on a single TCP port and exposes a
// read-only admin API, an operator console and optional MQTT telemetry.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/sacredlobby/sacredlobby/internal/api"
	consolecli "github.com/sacredlobby/sacredlobby/internal/cli"
	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/db"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/health"
	"github.com/sacredlobby/sacredlobby/internal/lobby"
	"github.com/sacredlobby/sacredlobby/internal/network"
	"github.com/sacredlobby/sacredlobby/internal/stats"
	"github.com/sacredlobby/sacredlobby/internal/telemetry"
	"github.com/sacredlobby/sacredlobby/internal/util"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
   ____                          _   _          _     _
  / ___|  __ _  ___ _ __ ___  __| | | |    ___ | |__ | |__  _   _
  \___ \ / _' |/ __| '__/ _ \/ _' | | |   / _ \| '_ \| '_ \| | | |
   ___) | (_| | (__| | |  __/ (_| | | |__| (_) | |_) | |_) | |_| |
  |____/ \__,_|\___|_|  \___|\__,_| |_____\___/|_.__/|_.__/ \__, |
                                                            |___/  v%s
`

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", util.AppName, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    util.AppName,
		Usage:   "Sacred game lobby server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"c"},
				Value:   config.DefaultConfigDir,
				Usage:   "directory holding config.json",
				EnvVars: []string{"SACREDLOBBY_CONFIG_DIR"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "lobby TCP port, overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "skip-security-checks",
				Usage: "skip envelope validation (module, kind, size, sender role and length checks)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error; overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "no-console",
				Usage: "do not read operator commands from stdin",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	fmt.Printf(banner, version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting lobby")

	cfg, err := config.Load(c.String("config-dir"))
	if err != nil {
		return err
	}

	logging := cfg.GetLogging()
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if lvl := c.String("log-level"); lvl != "" {
		logCfg.Level = lvl
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	localIP, _ := util.GetLocalIP()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Str("local_ip", localIP).
		Msg("system information")

	// Flag overrides stay out of cfg, which the console saves back to disk.
	lobbyCfg := overridesFromFlags(c).apply(cfg.GetLobby())
	dbCfg := cfg.GetDatabase()

	collector := stats.New(lobbyCfg.StatisticsEnabled)

	store, err := db.NewAccountsDatabase(dbCfg.Path, dbCfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer store.Close()

	bans, err := lobby.NewBanList(lobbyCfg.Bans)
	if err != nil {
		return fmt.Errorf("invalid ban list: %w", err)
	}

	opts, err := lobby.OptionsFromConfig(lobbyCfg, collector)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	resolver := network.NewPublicIPResolver(lobbyCfg.PublicIP, network.DefaultIPServices)
	lb := lobby.New(opts, store, resolver, bans, eventBus)

	lobbyAddr := net.JoinHostPort(lobbyCfg.ListenAddress, strconv.Itoa(lobbyCfg.Port))
	listener := network.NewTCPListener(lobbyAddr, lb)

	healthMgr := health.NewManager(cfg.GetTimers(), eventBus, lb, resolver, collector)

	var apiServer *api.Server
	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer = api.NewServer(apiCfg, api.Deps{
			Lobby:    lb,
			Accounts: store,
			Stats:    collector,
			Bus:      eventBus,
			Resolver: resolver,
			Version:  version,
		}, logCfg.Level == "debug" || logCfg.Level == "trace")
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		instanceID := ""
		if apiServer != nil {
			instanceID = apiServer.InstanceID()
		}
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus, instanceID, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", lobbyAddr).Msg("starting lobby listener")
		if err := startWithRetry(ctx, "lobby listener", listener.Start, 5); err != nil {
			errCh <- fmt.Errorf("lobby listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if !c.Bool("no-console") {
		console := consolecli.NewCLI(cfg, eventBus, lb, collector, cancel, os.Stdin, os.Stdout)
		// Not waited for: the stdin reader does not observe ctx.
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Handlers touch the account store, which closes when run returns.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := lb.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("sessions still running after 10 seconds")
	}
	drainCancel()

	eventBus.Stop()
	log.Info().Msg("lobby stopped")
	return runErr
}

// flagOverrides are the lobby settings given on the command line. They
// apply to this run only.
type flagOverrides struct {
	port       int
	skipChecks bool
}

func overridesFromFlags(c *cli.Context) flagOverrides {
	o := flagOverrides{skipChecks: c.Bool("skip-security-checks")}
	if c.IsSet("port") {
		o.port = c.Int("port")
	}
	return o
}

// apply returns lobbyCfg with the overrides laid over it.
func (o flagOverrides) apply(lobbyCfg config.LobbyConfig) config.LobbyConfig {
	if o.port != 0 {
		lobbyCfg.Port = o.port
	}
	if o.skipChecks {
		lobbyCfg.SkipSecurityChecks = true
	}
	return lobbyCfg
}

// startWithRetry retries startFn while the port is still held by a
// previous instance.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
