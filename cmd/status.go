package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the mutex without blocking",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	mu, err := openConfiguredMutex()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	okExclusive, err := mu.TryLock()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if okExclusive {
		defer func() { _ = mu.Unlock() }()
		fmt.Printf("%s: free (probe took exclusive and released)\n", mu)
		return nil
	}

	okShared, err := mu.TryLockShared()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if okShared {
		defer func() { _ = mu.Unlock() }()
		fmt.Printf("%s: shared-lockable, some other holder keeps it from going exclusive\n", mu)
		return nil
	}

	fmt.Printf("%s: held exclusively by another process\n", mu)
	return nil
}
