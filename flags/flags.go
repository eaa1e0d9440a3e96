package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTKIT"

var (
	Plan = &cli.StringFlag{
		Name:     "plan",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:    "Path to the execution plan file (eg. 'plan.yaml')",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Parallel = &cli.IntFlag{
		Name:    "parallel",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARALLEL"),
		Usage:   "Maximum number of sibling containers executed concurrently (0 or 1 = serial)",
	}
	TrackUniqueIDs = &cli.StringFlag{
		Name:    "track-unique-ids",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UNIQUE_ID_TRACKING"),
		Usage:   "Enable unique ID tracking. Only a case-insensitive 'true' enables it.",
	}
	TrackingDir = &cli.StringFlag{
		Name:    "tracking-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UNIQUE_ID_TRACKING_DIR"),
		Usage:   "Directory for the unique ID tracking file (default 'build')",
	}
	TrackingFile = &cli.StringFlag{
		Name:    "tracking-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UNIQUE_ID_TRACKING_FILE"),
		Usage:   "File name for the unique ID tracking file (default 'unique-ids.txt')",
	}
)

var requiredFlags = []cli.Flag{
	Plan,
}

var optionalFlags = []cli.Flag{
	RunInterval,
	Parallel,
	TrackUniqueIDs,
	TrackingDir,
	TrackingFile,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
