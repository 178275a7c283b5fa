package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catchup-hq/catchup/internal/api"
	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/config"
	"github.com/catchup-hq/catchup/internal/events"
	"github.com/catchup-hq/catchup/internal/store/postgres"
	"github.com/catchup-hq/catchup/internal/unread"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newBroker = events.NewBroker
	newStore  = func(conn string) (*postgres.PostgresStore, error) {
		return postgres.New(conn)
	}
	newRegistry = unread.NewRegistry
	newServer   = func(store *postgres.PostgresStore, broker *events.Broker, loads *unread.Registry, cfg config.Config) server {
		return api.NewServer(store, broker, loads, cfg)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := newBroker()
	store, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}

	pageFactory := func(ctx context.Context) (browser.Page, error) {
		return browser.NewChromePage(ctx, browser.ChromeConfig{
			RemoteURL: cfg.ChromeRemoteURL,
			ExecPath:  cfg.ChromePath,
		})
	}
	loaderCfg := unread.LoaderConfig{
		PollInterval:   time.Duration(cfg.PollInterval) * time.Millisecond,
		BootWaitIters:  cfg.BootWaitIters,
		FetchWaitIters: cfg.FetchWaitIters,
	}
	registry := newRegistry(pageFactory, loaderCfg, broker, cfg.CaptureDir)
	defer registry.Close()

	server := newServer(store, broker, registry, cfg)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Catchup listening on %s", addr)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}
