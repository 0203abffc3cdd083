package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/lock"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Print the running server instance recorded in the PID file",
	RunE: func(cmd *cobra.Command, args []string) error {
		single, err := lock.NewSingleton(cfg.Singleton.Dir, cfg.Singleton.Name)
		if err != nil {
			return err
		}
		running, err := single.IsAnotherInstanceRunning()
		if err != nil {
			return err
		}
		info, err := single.RunningInstanceInfo()
		if err != nil {
			return err
		}
		if !running || info == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no running instance") //nolint:errcheck
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func init() {
	rootCmd.AddCommand(instanceCmd)
}
