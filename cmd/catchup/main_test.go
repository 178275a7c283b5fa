package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/catchup-hq/catchup/internal/config"
	"github.com/catchup-hq/catchup/internal/events"
	"github.com/catchup-hq/catchup/internal/store/postgres"
	"github.com/catchup-hq/catchup/internal/unread"
)

type stubServer struct {
	err error
}

func (s stubServer) Start(ctx context.Context, addr string) error {
	return s.err
}

func captureDeps() func() {
	origLoadConfig := loadConfig
	origNewBroker := newBroker
	origNewStore := newStore
	origNewRegistry := newRegistry
	origNewServer := newServer
	origNotifyContext := notifyContext

	return func() {
		loadConfig = origLoadConfig
		newBroker = origNewBroker
		newStore = origNewStore
		newRegistry = origNewRegistry
		newServer = origNewServer
		notifyContext = origNotifyContext
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			Port:        "0",
			PostgresURL: "postgres://example",
		}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return &postgres.PostgresStore{}, nil
	}
	newServer = func(_ *postgres.PostgresStore, _ *events.Broker, _ *unread.Registry, _ config.Config) server {
		return stubServer{}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunStoreInitFailure(t *testing.T) {
	restore := captureDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{PostgresURL: "postgres://example"}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return nil, errors.New("store init failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunServerStartFailure(t *testing.T) {
	restore := captureDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{Port: "0", PostgresURL: "postgres://example"}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return nil, nil
	}
	newServer = func(_ *postgres.PostgresStore, _ *events.Broker, _ *unread.Registry, _ config.Config) server {
		return stubServer{err: errors.New("listen failed")}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
