package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/folio"
	"github.com/eringen/folio/importer"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "version":
		fmt.Printf("folio %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(name string, args []string) (folio.SiteConfig, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", folio.EnvOr("FOLIO_CONFIG", "folio.yaml"), "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return folio.SiteConfig{}, nil, err
	}
	cfg, err := folio.LoadConfig(*path)
	return cfg, fs, err
}

func runServe(args []string) error {
	cfg, _, err := loadConfig("serve", args)
	if err != nil {
		return err
	}
	app := folio.New(cfg, folio.ViewFuncs{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(app.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runImport(args []string) error {
	cfg, fs, err := loadConfig("import", args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: folio import [-config file] <legacy.db>")
	}

	app := folio.New(cfg, folio.ViewFuncs{})
	if err := app.Init(); err != nil {
		return err
	}
	log := app.Logger()
	defer func() { _ = log.Sync() }()

	src, err := importer.OpenSource(fs.Arg(0))
	if err != nil {
		return err
	}
	defer src.Close()

	rep, err := importer.New(app.Entries, log).Run(context.Background(), src)
	if err != nil {
		return err
	}
	log.Info("import finished",
		zap.Int("imported", len(rep.Imported)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("failed", len(rep.Failed)),
	)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func printUsage() {
	fmt.Println(`folio - flat-file photo portfolio and blog server

Usage:
  folio <command> [arguments]

Commands:
  serve [-config file]              Start the HTTP server
  import [-config file] <db>        Import posts from a legacy SQLite blog database
  version                           Print the folio version
  help                              Show this help message

Configuration is read from folio.yaml (or $FOLIO_CONFIG) and FOLIO_*
environment variables.`)
}
