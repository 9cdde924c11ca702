package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/access-panel-be/internal/api"
	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/config"
	"github.com/isdelr/access-panel-be/internal/database"
	"github.com/isdelr/access-panel-be/internal/docker"
	"github.com/isdelr/access-panel-be/internal/logger"
	"github.com/isdelr/access-panel-be/internal/mail"
	"github.com/isdelr/access-panel-be/internal/monitoring"
	"github.com/isdelr/access-panel-be/internal/provision"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/isdelr/access-panel-be/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Init(os.Getenv("APP_ENV"))
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Environment)

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Tokens
	codec, err := auth.NewVerificationCodec(cfg.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize verification codec")
	}
	sessions, err := auth.NewSessionManager(cfg.SecretKey, auth.DefaultSessionDuration)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session manager")
	}

	mailer, err := mail.NewSMTPMailer(mail.Settings{
		Enabled:  cfg.Mail.Enabled,
		Host:     cfg.Mail.Server,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.Sender,
		UseTLS:   cfg.Mail.UseTLS,
		UseSSL:   cfg.Mail.UseSSL,
		Timeout:  cfg.Mail.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mailer")
	}
	if !cfg.Mail.Enabled {
		log.Warn().Msg("Mail is disabled; verification links are only written to the debug log")
	}

	// Set up services
	eventService := services.NewEventService(db, hub)
	userService := services.NewUserService(db)
	accountService := services.NewAccountService(userService, codec, mailer, eventService, cfg.BaseURL, auth.DefaultVerificationMaxAge)

	provisioner, dockerClient := newProvisioner(cfg, eventService)
	if dockerClient != nil {
		defer dockerClient.Close()
	}
	provisionService := services.NewProvisionService(provisioner, eventService)

	// Set up and run the event retention scheduler
	scheduler, err := monitoring.NewScheduler(eventService, cfg.Events.Retention, cfg.Events.PruneSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	go scheduler.Run()

	// Set up and run the host monitor
	hostOpts := monitoring.HostMonitorOptions{
		Events:        eventService,
		Containers:    proxyContainers(cfg),
		DiskPath:      cfg.Monitor.DiskPath,
		DiskThreshold: cfg.Monitor.DiskThreshold,
		Interval:      cfg.Monitor.Interval,
	}
	if dockerClient != nil {
		hostOpts.Inspector = dockerClient
	}
	hostMonitor := monitoring.NewHostMonitor(hostOpts)
	go hostMonitor.Run()

	// Set up router
	router := api.NewRouter(api.Dependencies{
		Accounts:       accountService,
		Provisioning:   provisionService,
		Events:         eventService,
		Sessions:       sessions,
		Hub:            hub,
		DB:             db,
		Host:           hostMonitor,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.IsProduction(),
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("env", cfg.Environment).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	hostMonitor.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Stop()

	log.Info().Msg("Server exiting")
}

// newProvisioner builds the runner and proxy targets from cfg. The Docker
// client is only created when a proxy container is configured.
func newProvisioner(cfg *config.Config, events services.EventServiceProvider) (*provision.Provisioner, *docker.Client) {
	opts := provision.Options{
		VMess:  provision.ProxyTarget{ConfigPath: cfg.V2Ray.VMessConfig, Container: cfg.V2Ray.VMessContainer},
		Trojan: provision.ProxyTarget{ConfigPath: cfg.V2Ray.TrojanConfig, Container: cfg.V2Ray.TrojanContainer},
		Xray:   provision.ProxyTarget{ConfigPath: cfg.V2Ray.XrayConfig, Container: cfg.V2Ray.XrayContainer},

		BackupDir: cfg.V2Ray.BackupDir,
	}

	if cfg.Provision.RemoteHost != "" {
		runner, err := provision.NewRemoteRunner(provision.RemoteConfig{
			Host:           cfg.Provision.RemoteHost,
			Port:           cfg.Provision.RemotePort,
			User:           cfg.Provision.RemoteUser,
			Password:       cfg.Provision.RemotePassword,
			KnownHostsFile: cfg.Provision.KnownHosts,
			DialTimeout:    cfg.Provision.DialTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize remote runner")
		}
		if cfg.Provision.KnownHosts == "" {
			log.Warn().Str("host", cfg.Provision.RemoteHost).Msg("PROVISION_KNOWN_HOSTS not set; remote host key is not verified")
		}
		log.Info().Str("host", cfg.Provision.RemoteHost).Msg("SSH accounts are created on the remote host")
		opts.Runner = runner
	}

	var dockerClient *docker.Client
	if len(proxyContainers(cfg)) > 0 {
		c, err := docker.New()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Docker client")
		}
		dockerClient = c
		opts.Restarter = services.AuditedRestarter{Restarter: c, Events: events}
	}
	return provision.New(opts), dockerClient
}

func proxyContainers(cfg *config.Config) []string {
	var names []string
	for _, name := range []string{cfg.V2Ray.VMessContainer, cfg.V2Ray.TrojanContainer, cfg.V2Ray.XrayContainer} {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
