package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/account-service/internal/auth"
	"github.com/Dan9191/account-service/internal/config"
	"github.com/Dan9191/account-service/internal/handler"
	"github.com/Dan9191/account-service/internal/jobs"
	"github.com/Dan9191/account-service/internal/repository"
	"github.com/Dan9191/account-service/internal/service"
	"github.com/Dan9191/account-service/internal/session"
	"github.com/Dan9191/account-service/internal/storage"
	"github.com/Dan9191/account-service/internal/utils/email"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// userStore is what the layers below main need from either repository.
type userStore interface {
	service.UserStore
	jobs.AvatarIndex
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var repo userStore
	if cfg.DBDriver == "memory" {
		logger.Warn("Using in-memory user store; accounts are lost on restart")
		repo = repository.NewMemoryRepository()
	} else {
		var db *sql.DB
		db, err = repository.Open(ctx, cfg.DBDriver, cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		repo = repository.NewRepository(db)
	}

	avatarStore, avatarDir, err := newAvatarStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to set up avatar storage: %v", err)
	}
	avatars := storage.NewAvatars(avatarStore, cfg.AvatarMaxBytes)

	// Outbound mail goes through a queue so a slow relay does not hold requests
	mailQueue := email.NewQueue(email.NewSender(cfg, logger), cfg.MailQueueSize, cfg.MailWorkers, logger)
	defer mailQueue.Close()

	// Initialize layers
	tokens := auth.NewResetTokens([]byte(cfg.SecretKey), cfg.ResetTokenTTL, repo)
	sessions := session.NewManager([]byte(cfg.SessionKey), repo, session.Options{
		SessionTTL:  cfg.SessionTTL,
		RememberTTL: cfg.RememberTTL,
		Secure:      cfg.CookieSecure,
	})
	svc := service.NewService(service.Deps{
		Repo:    repo,
		Hasher:  auth.NewPasswordHasher(cfg.BcryptCost),
		Tokens:  tokens,
		Mailer:  mailQueue,
		Avatars: avatars,
		Log:     logger,
		BaseURL: cfg.BaseURL,
	})
	h := handler.NewHandler(svc, sessions, avatars, logger, cfg.AvatarMaxBytes)
	r := handler.NewRouter(h, sessions, logger, avatarDir)

	// Background jobs
	scheduler := cron.New()
	sweeper := jobs.NewAvatarSweeper(repo, avatars, cfg.AvatarSweepGrace, logger)
	if _, err := sweeper.Schedule(scheduler, cfg.AvatarSweepSchedule); err != nil {
		logger.Fatalf("Invalid avatar sweep schedule %q: %v", cfg.AvatarSweepSchedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := serve(ctx, server, server.ListenAndServe, 10*time.Second); err != nil {
		logger.Errorf("Server failed: %v", err)
	}
	logger.Info("Server stopped")
}

// serve runs listen until ctx is cancelled, then shuts server down and waits
// for in-flight requests, up to timeout, before returning. The caller's
// deferred cleanup therefore never races a running handler.
func serve(ctx context.Context, server *http.Server, listen func() error, timeout time.Duration) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		shutdownDone <- server.Shutdown(shutdownCtx)
	}()

	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newAvatarStore picks the configured backend. The returned directory is
// non-empty when avatars must be served by this process.
func newAvatarStore(ctx context.Context, cfg *config.Config) (storage.Store, string, error) {
	switch cfg.AvatarBackend {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
			Prefix:    cfg.S3Prefix,
		})
		return s3Store, "", err
	default:
		if err := os.MkdirAll(cfg.AvatarDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create avatar directory: %w", err)
		}
		return storage.NewLocalStore(cfg.AvatarDir, handler.AvatarPrefix), cfg.AvatarDir, nil
	}
}
