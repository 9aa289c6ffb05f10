package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-spin/v1/config"
	"github.com/mirkobrombin/go-spin/v1/presets"
)

var showFlags = map[string]string{
	"redis-addr": "redis.addr",
	"report-dsn": "report.dsn",
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Print a stored report as JSON",
		Long: `Show loads a report saved by an earlier run from Redis or the sql store.
The memory store does not outlive the run that filled it.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, showFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if store, _ := cmd.Flags().GetString("store"); cmd.Flags().Changed("store") || cfg.Report.Store == "none" {
				cfg.Report.Store = store
			}
			switch strings.ToLower(cfg.Report.Store) {
			case "redis", "sql":
			default:
				return fmt.Errorf("cannot show reports from the %q store", cfg.Report.Store)
			}
			cfg.Lock.Backend = "spin"
			cfg.Bus.Kind = "none"

			stack, err := presets.FromConfig(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer stack.Close()

			rep, err := stack.Store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	d := config.Default()
	cmd.Flags().String("store", "redis", "report store: redis, sql")
	cmd.Flags().String("redis-addr", d.Redis.Addr, "redis address")
	cmd.Flags().String("report-dsn", d.Report.DSN, "sqlite database of the sql store")
	return cmd
}
