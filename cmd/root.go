package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cocoonstack/lockctl/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockctl",
		Short: "lockctl - inter-process filesystem mutex control",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("sysroot", "", "assumed system root")
	cmd.PersistentFlags().String("mutex-name", "", "special-purpose mutex name (default: common mutex)")
	cmd.PersistentFlags().String("mutex-path", "", "mutex file path, bypassing sysroot/name resolution")
	cmd.PersistentFlags().Int("wait-timeout-seconds", 0, "bound on how long an acquire waits before timing out")

	_ = viper.BindPFlag("sysroot", cmd.PersistentFlags().Lookup("sysroot"))
	_ = viper.BindPFlag("mutex_name", cmd.PersistentFlags().Lookup("mutex-name"))
	_ = viper.BindPFlag("mutex_path", cmd.PersistentFlags().Lookup("mutex-path"))
	_ = viper.BindPFlag("wait_timeout_seconds", cmd.PersistentFlags().Lookup("wait-timeout-seconds"))

	viper.SetEnvPrefix("LOCKCTL")
	viper.AutomaticEnv()

	cmd.AddCommand(
		acquireCmd,
		waitCmd,
		statusCmd,
		watchCmd,
		versionCmd,
	)

	return cmd
}()

func initConfig() error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return log.SetupLog(context.Background(), &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
