package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/config"
	"github.com/fpvtiming/racehub/pkg/endpoints/session"
	"github.com/fpvtiming/racehub/pkg/hub"
	"github.com/fpvtiming/racehub/pkg/race"
	natsrelay "github.com/fpvtiming/racehub/pkg/relay/nats"
	"github.com/fpvtiming/racehub/pkg/utils"
	"github.com/fpvtiming/racehub/pkg/wire"
	"github.com/fpvtiming/racehub/pkg/ws"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the event distribution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer()
		},
	}
	cmd.Flags().StringVarP(&config.ListenAddr,
		"listen-addr",
		"a",
		"localhost:8080",
		"server listen address")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules applied to the json logger")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"if set, envelopes are relayed via this NATS server")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	cmd.Flags().StringVar(&config.HeartbeatInterval,
		"heartbeat-interval",
		"10s",
		"interval between heartbeat envelopes")
	cmd.Flags().StringVar(&config.SessionTimeout,
		"session-timeout",
		"90s",
		"sessions without inbound activity for this duration are evicted")
	cmd.Flags().StringVar(&config.DedupWindow,
		"dedup-window",
		"60s",
		"duration a correlation id is remembered per subscriber")
	cmd.Flags().IntVar(&config.SubscriberQueue,
		"subscriber-queue",
		256,
		"outbound queue size per subscriber")
	cmd.Flags().StringVar(&config.AdminUser,
		"admin-user",
		"admin",
		"username of the built-in admin account")
	cmd.Flags().StringVar(&config.AdminPassword,
		"admin-password",
		"",
		"password of the built-in admin account")
	cmd.Flags().StringVar(&config.ViewerPassword,
		"viewer-password",
		"",
		"if set, enables the read-only viewer account")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func parseDuration(arg string, defaultVal time.Duration) time.Duration {
	ret, err := time.ParseDuration(arg)
	if err != nil {
		log.Warn("invalid duration value, using default",
			log.String("value", arg),
			log.Duration("default", defaultVal))
		return defaultVal
	}
	return ret
}

// lifecycle turns shutdown/restart commands from privileged clients
// into the same signal the process receives from the OS.
type lifecycle struct {
	sigChan chan os.Signal
}

func (lc *lifecycle) RequestShutdown() {
	log.Info("shutdown requested by client")
	lc.signal()
}

// RequestRestart terminates the process like a shutdown. Bringing the
// process back up is the supervisor's job.
func (lc *lifecycle) RequestRestart() {
	log.Info("restart requested by client")
	lc.signal()
}

// signal must not block: a second command while a shutdown is already
// pending would otherwise park the caller's read pump forever.
func (lc *lifecycle) signal() {
	select {
	case lc.sigChan <- syscall.SIGTERM:
	default:
	}
}

//nolint:funlen,cyclop // by design
func startServer() error {
	var logger *log.Logger
	var telemetry *config.Telemetry
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
		if config.LogFilter != "" {
			filtered, err := log.FilteredLogger(
				os.Stderr,
				parseLogLevel(config.LogLevel, log.InfoLevel),
				config.LogFilter,
				log.WithCaller(true),
				log.AddCallerSkip(1))
			if err != nil {
				logger.Warn("invalid log filter rules, ignoring",
					log.String("rules", config.LogFilter),
					log.ErrorField(err))
			} else {
				logger = filtered
			}
		}
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	log.ResetDefault(logger)

	if config.AdminPassword == "" {
		return errors.New("admin-password is required")
	}

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices()

	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(context.Background()); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
	}

	log.Info("Starting server")

	verifier := auth.NewStaticVerifier()
	verifier.AddAccount(config.AdminUser, config.AdminPassword, false,
		auth.PermAuthenticated, auth.PermEventStream, auth.PermSystemControl,
		auth.PermRaceControl, auth.PermReadPilots, auth.PermWritePilots)
	if config.ViewerPassword != "" {
		verifier.AddAccount("viewer", config.ViewerPassword, false,
			auth.PermAuthenticated, auth.PermEventStream, auth.PermReadPilots)
	}

	distHub := hub.NewHub(
		hub.WithQueueSize(config.SubscriberQueue),
		hub.WithDedupWindow(256, parseDuration(config.DedupWindow, 60*time.Second)),
		hub.WithAuthorizer(verifier))
	ctrl := race.NewControl(distHub)
	store := auth.NewSessionStore()
	authenticator := auth.NewAuthenticator(verifier)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	lc := &lifecycle{sigChan: sigChan}

	var relay *natsrelay.Relay
	if config.NatsURL != "" {
		conn, err := natsio.Connect(config.NatsURL)
		if err != nil {
			log.Error("could not connect to NATS", log.ErrorField(err))
			return err
		}
		if relay, err = natsrelay.NewRelay(conn, distHub); err != nil {
			log.Error("could not start relay", log.ErrorField(err))
			return err
		}
	}

	mux := http.NewServeMux()
	session.NewManager(store, authenticator,
		session.WithEvictor(distHub)).RegisterRoutes(mux)
	mux.Handle("GET /ws/events", ws.NewServer(store, distHub,
		ws.DefaultRouter(distHub, ctrl, lc)))

	server := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           newCORS().Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server started", log.String("addr", config.ListenAddr))
		if err := server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.Error("server could not be started", log.ErrorField(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitor := hub.NewMonitor(distHub,
		hub.WithInterval(parseDuration(config.HeartbeatInterval, 10*time.Second)),
		hub.WithTimeout(parseDuration(config.SessionTimeout, 90*time.Second)))
	go monitor.Run(monitorCtx)

	distHub.Publish(wire.NewEnvelope(wire.KindStartup), auth.PermNone)

	v := <-sigChan
	log.Debug("Got signal ", log.Any("signal", v))

	distHub.Publish(wire.NewEnvelope(wire.KindShutdown), auth.PermNone)
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", log.ErrorField(err))
	}
	distHub.Close()
	if relay != nil {
		relay.Close()
	}
	if telemetry != nil {
		telemetry.Shutdown()
	}
	log.Info("Server terminated")
	return nil
}

func waitForRequiredServices() {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTCP := func(addr string) {
		if err = utils.WaitForTCP(addr, timeout); err != nil {
			log.Fatal("required services not ready", log.ErrorField(err))
		}
		wg.Done()
	}

	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		wg.Add(1)
		go checkTCP(natsAddr)
	}
	wg.Wait()
}

func newCORS() *cors.Cors {
	// browsers talk to the login endpoints and the websocket upgrade
	// from arbitrary origins, so the CORS setup is permissive.
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			// Allow all origins, which effectively disables CORS.
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Content-Encoding",
			auth.SessionHeader,
		},
		// Let browsers cache CORS information for longer, which reduces the number
		// of preflight requests.
		MaxAge: int(2 * time.Hour / time.Second),
	})
}
