// Command exgate queries tickers, manages orders and streams trades on the
// supported exchanges through one configuration file.
//
// Usage:
//
//	exgate [--config exgate.yaml] [--log-level debug] <command> [flags]
//
// Commands are ticker, pairs, order, cancel, status and stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"exgate/pkg/config"
	"exgate/pkg/exchange"
	"exgate/pkg/registry"
)

var errUsage = errors.New("usage")

type app struct {
	registry *registry.Registry
	logger   zerolog.Logger
	out      io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"ticker": {"print the best bid, ask and last price", runTicker},
	"pairs":  {"list the pairs an exchange is configured for", runPairs},
	"order":  {"place an order, optionally waiting until it is terminal", runOrder},
	"cancel": {"cancel an open order", runCancel},
	"status": {"print the current state of an order", runStatus},
	"stream": {"stream public trades", runStream},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("exgate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	configPath := fs.StringP("config", "c", "", "config file (default ./exgate.yaml)")
	logLevel := fs.String("log-level", "", "override the configured log level")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		return err
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return errUsage
	}

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := registry.New(cfg, exchange.WithLogger(logger))
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn().Err(err).Msg("close clients")
		}
	}()

	a := &app{registry: reg, logger: logger, out: stdout}
	err = cmd.run(ctx, a, fs.Args()[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return errUsage
	}
	return err
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: exgate [flags] <command> [command flags]")
	fmt.Fprintln(w, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nFlags:")
	fmt.Fprint(w, fs.FlagUsages())
}
