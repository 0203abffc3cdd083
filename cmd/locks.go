package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var locksForce bool

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and manage campaign locks",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active campaign locks (stale locks are removed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		locks, err := campaignLocks(cfg)
		if err != nil {
			return err
		}
		recs, err := locks.ListActive()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(recs) == 0 {
			fmt.Fprintln(out, "no active campaign locks") //nolint:errcheck
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tTYPE\tPID\tACQUIRED\tAGE") //nolint:errcheck
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", //nolint:errcheck
				r.SessionID, r.CampaignType, r.PID,
				r.AcquiredAt().Format(time.RFC3339),
				time.Since(r.AcquiredAt()).Round(time.Second))
		}
		return tw.Flush()
	},
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release <session-id>",
	Short: "Release a campaign lock (--force releases a lock owned by another process)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locks, err := campaignLocks(cfg)
		if err != nil {
			return err
		}
		release := locks.Release
		if locksForce {
			release = locks.ForceRelease
		}
		ok, err := release(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "lock for %s not released (missing, or owned by another process; use --force)\n", args[0]) //nolint:errcheck
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "released lock for %s\n", args[0]) //nolint:errcheck
		return nil
	},
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove every campaign lock file unconditionally",
	RunE: func(cmd *cobra.Command, args []string) error {
		locks, err := campaignLocks(cfg)
		if err != nil {
			return err
		}
		n, err := locks.CleanupAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d lock file(s) from %s\n", n, locks.Dir()) //nolint:errcheck
		return nil
	},
}

func init() {
	locksReleaseCmd.Flags().BoolVar(&locksForce, "force", false, "release regardless of owner")
	locksCmd.AddCommand(locksListCmd, locksReleaseCmd, locksCleanupCmd)
	rootCmd.AddCommand(locksCmd)
}
