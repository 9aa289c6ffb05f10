package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-spin/v1/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "spinstress",
		Short: "Stress a spin lock with concurrent counter increments",
		Long: `spinstress spawns many workers that each increment a shared counter once
inside a critical section guarded by the selected lock, optionally while a
controller holds the lock, and verifies that no increment was lost.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./spin.yaml)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(newRunCmd(v), newShowCmd(v))
	return root
}

func initConfig(v *viper.Viper) error {
	config.SetDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("spin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/spin")
	}

	v.SetEnvPrefix("SPIN")
	// SPIN_HARNESS_WORKERS for harness.workers
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// an explicitly named file must exist; the default one is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || v.GetString("config") != "" {
			return err
		}
	}
	return nil
}
