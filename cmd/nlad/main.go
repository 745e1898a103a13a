package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cedadev/nla-control-go/internal/api"
	"github.com/cedadev/nla-control-go/internal/auth"
	"github.com/cedadev/nla-control-go/internal/config"
	"github.com/cedadev/nla-control-go/internal/database"
	"github.com/cedadev/nla-control-go/internal/diskalloc"
	"github.com/cedadev/nla-control-go/internal/executor"
	"github.com/cedadev/nla-control-go/internal/ingest"
	"github.com/cedadev/nla-control-go/internal/logging"
	"github.com/cedadev/nla-control-go/internal/notifications"
	"github.com/cedadev/nla-control-go/internal/pathresolver"
	"github.com/cedadev/nla-control-go/internal/reconcile"
	"github.com/cedadev/nla-control-go/internal/requests"
	"github.com/cedadev/nla-control-go/internal/scheduler"
	"github.com/cedadev/nla-control-go/internal/searchindex"
	"github.com/cedadev/nla-control-go/internal/slots"
	"github.com/cedadev/nla-control-go/internal/store"
	tape "github.com/cedadev/nla-control-go/internal/tapeclient"
	"github.com/cedadev/nla-control-go/internal/verify"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	configPath := flag.String("config", "/etc/nlad/config.json", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	initConfig := flag.Bool("init-config", false, "Create default configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nlad v%s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved to %s\n", *configPath)
		os.Exit(0)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting nlad", map[string]interface{}{
		"version": version,
		"config":  *configPath,
	})

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to initialize database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Error("Failed to run migrations", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Database initialized", map[string]interface{}{"path": cfg.Database.Path})

	st := store.New(db)

	resolver := pathresolver.New(cfg.NLA.CEDADownloadConf, cfg.NLA.StoragePathsURL, nil)
	resolverReady := false
	if err := resolver.Load(context.Background()); err != nil {
		logger.Error("Failed to load path resolver tables", map[string]interface{}{"error": err.Error()})
	} else {
		resolverReady = true
	}

	tapeService, err := tape.New(tape.Config{SDHost: cfg.NLA.SDHost, TestVersion: cfg.NLA.TestVersion}, 64)
	if err != nil {
		logger.Error("Failed to initialize tape client", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	alloc := diskalloc.New(st)
	authService := auth.NewService(db, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)

	var emailService *notifications.EmailService
	if cfg.Notifications.Email.Enabled {
		emailService = notifications.NewEmailService(notifications.EmailConfig{
			Enabled:    cfg.Notifications.Email.Enabled,
			SMTPHost:   cfg.Notifications.Email.SMTPHost,
			SMTPPort:   cfg.Notifications.Email.SMTPPort,
			Username:   cfg.Notifications.Email.Username,
			Password:   cfg.Notifications.Email.Password,
			FromEmail:  cfg.Notifications.Email.FromEmail,
			FromName:   cfg.Notifications.Email.FromName,
			UseTLS:     cfg.Notifications.Email.UseTLS,
			SkipVerify: cfg.Notifications.Email.SkipVerify,
		})
		logger.Info("Email notifications enabled", nil)
	}
	notifier := notifications.NewRequestNotifier(emailService)

	searchIndex := searchindex.New(cfg.NLA.SearchIndexURL, nil)

	localHost, err := os.Hostname()
	if err != nil {
		localHost = "localhost"
	}

	// The API server also owns the operator event bus, so it comes
	// first and the periodic components publish through it.
	apiServer := api.NewServer(db, st, resolver, authService, logger, func() bool { return resolverReady })

	exec := executor.New(st, alloc, resolver, tapeService, notifier, searchIndex, logger, apiServer.Publish, localHost, cfg.NLA.TestVersion)

	reqManager := requests.New(st, logger)
	slotScheduler := slots.New(st, cfg.NLA.MaxSlotsPerUser)
	reconciler := reconcile.New(st, resolver, tapeService, alloc, searchIndex, logger, apiServer.Publish, reconcile.Config{
		MinFileSize: cfg.NLA.MinFileSize,
		OnTapeURL:   cfg.NLA.OnTapeURL,
		TestVersion: cfg.NLA.TestVersion,
		LocalHost:   localHost,
		StuckGrace:  2 * time.Hour,
	})
	verifier := verify.New(st, resolver, tapeService, logger, apiServer.Publish, verify.Config{
		ChksumsDir:  cfg.NLA.ChksumsDir,
		TestVersion: cfg.NLA.TestVersion,
	})
	ingestScanner := ingest.New(st, logger, nil, ingest.Config{
		OnTapeURL:   cfg.NLA.OnTapeURL,
		MinFileSize: cfg.NLA.MinFileSize,
	})

	sup := newSlotSupervisor(st, exec, logger)

	schedulerService := scheduler.NewService(logger)
	registerJob := func(name, spec string, fn scheduler.JobFunc) {
		if err := schedulerService.Register(name, spec, fn); err != nil {
			logger.Error("Failed to register job", map[string]interface{}{"job": name, "error": err.Error()})
		}
	}

	registerJob("update_requests", "*/30 * * * * *", func(ctx context.Context) error {
		return reqManager.Run()
	})
	registerJob("adjust_and_load_slots", "*/15 * * * * *", func(ctx context.Context) error {
		if err := slotScheduler.AdjustSlots(cfg.NLA.StoragedSlots); err != nil {
			return err
		}
		if err := slotScheduler.LoadSlots(); err != nil {
			return err
		}
		sup.poke(ctx)
		return nil
	})
	registerJob("tidy_requests", "0 */5 * * * *", func(ctx context.Context) error {
		return reconciler.TidyRequests(ctx, time.Now())
	})
	registerJob("fix_problems", "0 0 * * * *", func(ctx context.Context) error {
		return reconciler.FixProblems(ctx)
	})
	registerJob("verify", "0 0 */6 * * *", func(ctx context.Context) error {
		_, err := verifier.Run(ctx, time.Now(), false)
		return err
	})
	registerJob("move_files_to_nla", "0 */10 * * * *", func(ctx context.Context) error {
		_, err := ingestScanner.Run(ctx)
		return err
	})

	schedulerService.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", map[string]interface{}{"address": addr})
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", map[string]interface{}{"signal": sig.String()})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schedulerService.Stop()
	sup.stop()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("nlad shutdown complete", nil)
}

// slotSupervisor drives each occupied-but-not-yet-started slot to
// completion in its own goroutine, one retrieval per slot at a time.
// Executor.Run blocks for the lifetime of a retrieval, so poke is safe
// to call on every adjust_and_load_slots tick: a slot already being
// driven is simply skipped.
type slotSupervisor struct {
	store  *store.Store
	exec   *executor.Executor
	logger *logging.Logger

	mu      sync.Mutex
	running map[int64]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func newSlotSupervisor(st *store.Store, exec *executor.Executor, logger *logging.Logger) *slotSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &slotSupervisor{
		store:   st,
		exec:    exec,
		logger:  logger,
		running: make(map[int64]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *slotSupervisor) poke(ctx context.Context) {
	occupied, err := s.store.ListOccupiedSlots()
	if err != nil {
		s.logger.WithFields(map[string]interface{}{"error": err.Error()}).Error("slot supervisor: listing occupied slots failed", nil)
		return
	}
	for _, slot := range occupied {
		if slot.Started() {
			continue
		}
		s.mu.Lock()
		if _, ok := s.running[slot.ID]; ok {
			s.mu.Unlock()
			continue
		}
		s.running[slot.ID] = struct{}{}
		s.mu.Unlock()

		go func(slotID int64) {
			defer func() {
				s.mu.Lock()
				delete(s.running, slotID)
				s.mu.Unlock()
			}()
			if err := s.exec.Run(s.ctx, slotID); err != nil {
				s.logger.WithFields(map[string]interface{}{"slot_id": slotID, "error": err.Error()}).Error("retrieval executor failed", nil)
			}
		}(slot.ID)
	}
}

func (s *slotSupervisor) stop() {
	s.cancel()
}
