package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/cocoonstack/lockctl/ipmutex"
)

var acquireShared bool

var acquireCmd = &cobra.Command{
	Use:   "acquire -- command [args...]",
	Short: "Hold the mutex while running a command, like flock(1)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAcquire,
}

func init() {
	acquireCmd.Flags().BoolVar(&acquireShared, "shared", false, "take a shared lock instead of exclusive")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.acquire")

	mu, err := openConfiguredMutex()
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	var g *ipmutex.Guard
	if acquireShared {
		g = ipmutex.NewSharableLockDeferred(mu)
	} else {
		g = ipmutex.NewExclusiveLockDeferred(mu)
	}

	report := progressReport("cmd.acquire")
	if conf.WaitTimeoutSeconds > 0 {
		report = withInitialTimeout(conf.WaitTimeoutSeconds, report)
	}
	if err := g.Lock(report); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer g.Unlock()

	logger.Infof(ctx, "holding %s on %s, running %v", mu.State(), mu.Path(), args)

	sub := exec.CommandContext(ctx, args[0], args[1:]...)
	sub.Stdin, sub.Stdout, sub.Stderr = os.Stdin, os.Stdout, os.Stderr
	return sub.Run()
}
