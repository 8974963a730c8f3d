package cmd

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the mutex's acquirability every time its file changes",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.watch")
	sessionID := uuid.NewString()

	mu, err := openConfiguredMutex()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(mu.Path()); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	logger.Infof(ctx, "%s: watching %s", sessionID, mu.Path())
	report := func() {
		ok, err := mu.TryLock()
		if err != nil {
			logger.Warnf(ctx, "%s: probe failed: %v", sessionID, err)
			return
		}
		if ok {
			_ = mu.Unlock()
			fmt.Printf("%s: free\n", mu.Path())
			return
		}
		fmt.Printf("%s: held\n", mu.Path())
	}
	report()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			logger.Infof(ctx, "%s: event %s", sessionID, event)
			report()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf(ctx, "%s: watch error: %v", sessionID, err)
		}
	}
}
