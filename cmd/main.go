package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testkit "github.com/ethereum-optimism/infra/op-testkit"
	"github.com/ethereum-optimism/infra/op-testkit/exitcodes"
	"github.com/ethereum-optimism/infra/op-testkit/flags"
	"github.com/ethereum-optimism/infra/op-testkit/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testkit"
	app.Usage = "Execution Event Reporting Service"
	app.Description = "op-testkit runs execution plans and reports their lifecycle event streams"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed runtime errors
			if testkit.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if testkit.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	// Start server
	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := testkit.NewConfig(ctx, logger, ctx.String(flags.Plan.Name))
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, testkit.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	tk, err := testkit.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, testkit.NewRuntimeError(fmt.Errorf("failed to create testkit: %w", err))
	}

	return tk, nil
}
