// Command tradewire-cli is an interactive console for the streaming
// client: pairing, login, subscriptions and live watch.
//
// Usage:
//
//	tradewire-cli -config /etc/tradewire/client.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tradewire-protocol/tradewire-go/cmd/tradewire-cli/interactive"
	"github.com/tradewire-protocol/tradewire-go/pkg/client"
	"github.com/tradewire-protocol/tradewire-go/pkg/config"
	"github.com/tradewire-protocol/tradewire-go/pkg/keystore"
	tlog "github.com/tradewire-protocol/tradewire-go/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	passphrase := flag.String("passphrase", "", "keystore passphrase (file keystore only)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tradewire-cli -config <file> [-passphrase <pass>]")
		os.Exit(2)
	}

	if err := run(*configPath, *passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "tradewire-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, passphrase string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var store keystore.Store
	if cfg.Keystore.Path != "" {
		if passphrase == "" {
			return fmt.Errorf("keystore %s requires -passphrase", cfg.Keystore.Path)
		}
		store, err = keystore.NewFileStore(cfg.Keystore.Path, passphrase)
		if err != nil {
			return err
		}
	} else {
		store = keystore.NewMemoryStore()
	}

	var logger tlog.Logger = tlog.NoopLogger{}
	if cfg.LogFile != "" {
		fileLogger, err := tlog.NewFileLogger(cfg.LogFile)
		if err != nil {
			return err
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	c, err := client.New(cfg, client.Options{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer c.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	console, err := interactive.New(c)
	if err != nil {
		return err
	}
	console.Run(ctx, cancel)
	return nil
}
