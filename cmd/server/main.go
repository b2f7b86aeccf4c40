package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/storyweave/collab/internal/api"
	"github.com/storyweave/collab/internal/config"
	"github.com/storyweave/collab/internal/database"
	"github.com/storyweave/collab/internal/server"
	"github.com/storyweave/collab/internal/stats"
)

const defaultSigningKey = "Cq3xqQKWTDH3MDITSO51kq1fSCSd8/JXklWoPQ3JFO0="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	sweepInterval  time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.DurationVar(&sweepInterval, "sweep-interval", time.Minute, "how often expired unit locks are swept")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[collab] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, sweepInterval)
	if err != nil {
		logger.Fatal("config:", err)
	}

	repo, err := database.NewPgCollabRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	collabServer, err := server.NewCollabServer(logger, statsUpdater, server.LockPolicy{
		Default: cfg.DefaultLockDuration,
		Min:     cfg.MinLockDuration,
		Max:     cfg.MaxLockDuration,
	}, cfg.SweepInterval)
	if err != nil {
		logger.Fatal("new collab server:", err)
	}

	srv := api.NewCollabApp(mux, logger, collabServer, repo, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go collabServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down collab server...")
	if err := collabServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("collab server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
