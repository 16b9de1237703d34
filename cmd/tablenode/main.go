// Package main runs a dtable node: one session whose stored tables are
// served over HTTP.
//
// Configuration:
//   - DTABLE_CONFIG: YAML config file (default: "dtable.yaml"; missing means defaults)
//   - DTABLE_LISTEN: listen address, overrides server.listen
//   - DTABLE_JOB_ID: job id, overrides job_id
//
// Example usage:
//
//	DTABLE_LISTEN=:8081 ./tablenode
//
//	curl -X POST localhost:8081/tables/app/users -d '{"partitions":8}'
//	curl -X PUT  localhost:8081/tables/app/users/keys/alice --data-binary 30
//	curl         localhost:8081/tables/app/users/count
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/dtable/internal/api"
	"github.com/dreamware/dtable/internal/config"
	"github.com/dreamware/dtable/internal/session"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	logger, err := initLogger(&cfg)
	if err != nil {
		logFatal("logger: %v", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logFatal("tablenode: %v", err)
	}
}

// loadConfig reads DTABLE_CONFIG and applies the environment overrides.
func loadConfig() (config.Config, error) {
	cfg, err := initConfig(getenv("DTABLE_CONFIG", "dtable.yaml"))
	if err != nil {
		return cfg, err
	}
	cfg.Server.Listen = getenv("DTABLE_LISTEN", cfg.Server.Listen)
	cfg.JobID = getenv("DTABLE_JOB_ID", cfg.JobID)
	return cfg, nil
}

// run serves until ctx is cancelled, then shuts the server down and
// closes the session.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	sess, err := session.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	srv := api.NewServer(sess, cfg.Server.Listen, logger)
	if err := srv.Start(); err != nil {
		_ = sess.Close()
		return err
	}
	logger.Info("tablenode running", "listen", cfg.Server.Listen, "job_id", sess.JobID(), "mode", cfg.Mode)

	<-ctx.Done()

	stopErr := srv.Stop()
	closeErr := sess.Close()
	logger.Info("tablenode stopped")
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
