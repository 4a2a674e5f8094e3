// Command server runs the thoughtflow API: per-owner encrypted note storage
// behind bearer-token auth.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/thoughtflow/internal/api"
	"github.com/kuitang/thoughtflow/internal/auth"
	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/config"
	"github.com/kuitang/thoughtflow/internal/crypto"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/ratelimit"
	"github.com/kuitang/thoughtflow/internal/s3client"
)

const (
	avatarBucket           = "thoughtflow-avatars"
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = time.Hour
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 on clean shutdown, 1 on runtime
// failure, 2 on bad flags or configuration.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("thoughtflow-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags, err := config.ParseFlags(fs, args)
	if err != nil {
		return 2
	}
	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	masterKey, err := parseMasterKey(cfg.MasterKey)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	obs.InitWithOptions(obs.Options{Level: obs.ParseLevel(cfg.LogLevel), File: cfg.LogFile})
	defer obs.Close()
	logger := obs.Pkg("server")

	db.DataDirectory = cfg.DatabasePath
	accounts, err := db.OpenAccountsDB()
	if err != nil {
		logger.Error("accounts_db_open_failed", "error", err)
		return 1
	}
	defer func() {
		if err := db.CloseAll(); err != nil {
			logger.Error("db_close_failed", "error", err)
		}
	}()

	sessions := auth.NewSessionService(accounts, clock.Real{}, cfg.SessionDuration)
	if flags.IssueToken != "" {
		token, err := sessions.Issue(ctx, flags.IssueToken)
		if err != nil {
			fmt.Fprintf(stderr, "issue token: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, token)
		return 0
	}
	keyManager := crypto.NewKeyManager(masterKey, accounts)
	if flags.RotateKey != "" {
		if err := keyManager.RotateOwnerKEK(ctx, flags.RotateKey); err != nil {
			fmt.Fprintf(stderr, "rotate key: %v\n", err)
			return 1
		}
		logger.Info("owner_key_rotated", "owner_id", flags.RotateKey)
		fmt.Fprintf(stdout, "rotated key for %s\n", flags.RotateKey)
		return 0
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, closeObjects, err := openObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("object_store_failed", "error", err)
		return 1
	}
	defer closeObjects()

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	handler := api.NewRouter(api.NewHandler(objects, clock.Real{}), auth.NewMiddleware(sessions, keyManager), limiter)

	go cleanupSessions(ctx, sessions, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	cfg.PrintStartupSummary(stderr)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", "error", err)
			return 1
		}
	}
	logger.Info("server_stopped")
	return 0
}

func parseMasterKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// openObjectStore returns the avatar store and a function releasing it.
func openObjectStore(ctx context.Context, cfg *config.Config) (*s3client.Client, func(), error) {
	if cfg.NoS3 {
		mem, err := s3client.NewInMemory(ctx, avatarBucket)
		if err != nil {
			return nil, nil, err
		}
		return mem.Client, func() { mem.Close() }, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
		PublicURL:       cfg.AWSPublicURL,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func cleanupSessions(ctx context.Context, sessions *auth.SessionService, logger *slog.Logger) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Cleanup(ctx)
			if err != nil {
				logger.Warn("session_cleanup_failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("sessions_expired", "count", n)
			}
		}
	}
}
