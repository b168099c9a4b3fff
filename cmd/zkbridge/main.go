// Command zkbridge runs one of the two bridging daemons described in
// SPEC_FULL.md: the deposit service (L1 TopUp -> L2 credit) or the
// settlement service (L2 proof bundle -> L1 settlement).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jupiterxyz/zkbridge/config"
	"github.com/jupiterxyz/zkbridge/orchestrator"
)

var modeFlag = &cli.StringFlag{
	Name:     "mode",
	Usage:    "which daemon to run: deposit or settlement",
	EnvVars:  []string{"ZKBRIDGE_MODE"},
	Required: true,
}

var logFileFlag = &cli.StringFlag{
	Name:    "log-file",
	Usage:   "rotate structured JSON logs to this file instead of the terminal",
	EnvVars: []string{"ZKBRIDGE_LOG_FILE"},
}

func main() {
	app := &cli.App{
		Name:   "zkbridge",
		Usage:  "L1<->L2 deposit and settlement bridging daemon",
		Flags:  []cli.Flag{modeFlag, logFileFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("zkbridge: fatal startup error", "err", err)
	}
}

func run(c *cli.Context) error {
	setupLogging(c.String("log-file"))

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		log.Warn("zkbridge: failed to set GOMAXPROCS from cgroup limits", "err", err)
	} else {
		defer undo()
	}

	mode := config.Mode(c.String("mode"))
	cfg, err := config.Load(mode)
	if err != nil {
		return fmt.Errorf("zkbridge: load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("zkbridge: shutdown signal received, stopping after the current round")
		cancel()
	}()

	return orchestrator.Run(ctx, cfg)
}

// setupLogging wires the process-wide root logger: a human-readable
// terminal handler by default, or a rotating JSON sink via
// lumberjack when --log-file is set.
func setupLogging(logFile string) {
	var handler slog.Handler
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		handler = log.JSONHandler(rotator)
	} else {
		handler = log.NewTerminalHandler(os.Stderr, true)
	}
	log.SetDefault(log.NewLogger(handler))
}
