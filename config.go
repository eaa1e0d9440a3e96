package testkit

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testkit/flags"
	"github.com/ethereum-optimism/infra/op-testkit/tracking"
)

// Config holds the application configuration
type Config struct {
	PlanPath    string
	RunInterval time.Duration // Interval between runs
	RunOnce     bool          // Indicates if the service should exit after one run
	Parallel    int           // Maximum concurrent sibling containers (0 or 1 = serial)
	Tracking    tracking.Config
	Log         log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, planPath string) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if planPath == "" {
		return nil, errors.New("plan file is required")
	}

	absPlanPath, err := filepath.Abs(planPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for plan file '%s': %w", planPath, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// The tracking switch is resolved here, once, and handed to the
	// listener at construction. Only a case-insensitive "true" enables it.
	trackingCfg := tracking.Config{
		Enabled:    strings.EqualFold(ctx.String(flags.TrackUniqueIDs.Name), "true"),
		OutputDir:  ctx.String(flags.TrackingDir.Name),
		OutputFile: ctx.String(flags.TrackingFile.Name),
		Log:        log,
	}

	return &Config{
		PlanPath:    absPlanPath,
		RunInterval: runInterval,
		RunOnce:     runOnce,
		Parallel:    ctx.Int(flags.Parallel.Name),
		Tracking:    trackingCfg,
		Log:         log,
	}, nil
}
