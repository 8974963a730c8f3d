package cmd

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/cocoonstack/lockctl/ipmutex"
)

var waitShared bool

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the mutex is acquirable, then release it immediately",
	RunE:  runWait,
}

func init() {
	waitCmd.Flags().BoolVar(&waitShared, "shared", false, "wait for a shared lock instead of exclusive")
}

func runWait(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.wait")

	mu, err := openConfiguredMutex()
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	var g *ipmutex.Guard
	if waitShared {
		g = ipmutex.NewSharableLockDeferred(mu)
	} else {
		g = ipmutex.NewExclusiveLockDeferred(mu)
	}

	report := progressReport("cmd.wait")
	if conf.WaitTimeoutSeconds > 0 {
		report = withInitialTimeout(conf.WaitTimeoutSeconds, report)
	}
	if err := g.Lock(report); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	g.Unlock()

	logger.Infof(ctx, "mutex on %s became acquirable and was released", mu.Path())
	return nil
}
