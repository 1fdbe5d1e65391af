package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/daemon"
)

var version = "dev"

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"buildwatch.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
	} `cmd:"" default:"1" help:"Run the continuous build-verification loop"`

	Version struct {
	} `cmd:"" help:"Print version and exit"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "version":
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.LogLevel = config.LogLevelDebug
	}
	cfg.SetupLogger()

	if err := run(cfg); err != nil {
		slog.Error("Daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return err
	}

	if err := d.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()
	slog.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return d.Stop(stopCtx)
}
