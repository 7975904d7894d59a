package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"prodlog/internal/core/lock"
	"prodlog/internal/core/types"
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear period locks",
	}

	status := &cobra.Command{
		Use:   "status <YYYY-MM>",
		Short: "Show who holds the lock for a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := parsePeriodArg(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runLockStatus(ctx, cmd.OutOrStdout(), a.Locks, period)
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear <YYYY-MM>",
		Short: "Remove a lock left behind by a crashed process",
		Long: `clear deletes the period lock regardless of its holder.

Only run it when the holder is known to be gone: a live holder will
finish its write without the lock.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear a lock without --yes")
			}
			period, err := parsePeriodArg(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runLockClear(ctx, cmd.OutOrStdout(), a.Locks, period)
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm removal")

	cmd.AddCommand(status, clearCmd)
	return cmd
}

func runLockStatus(ctx context.Context, w io.Writer, locks lock.Inspector, period types.Period) error {
	st, err := locks.Status(ctx, period)
	if err != nil {
		return err
	}
	if !st.Held {
		fmt.Fprintf(w, "%s: not locked\n", period)
		return nil
	}
	fmt.Fprintf(w, "%s: locked by %s since %s (ttl %s)",
		period, st.Holder, st.AcquiredAt.Format(time.RFC3339), st.TTL)
	if st.Stale {
		fmt.Fprint(w, " [stale]")
	}
	fmt.Fprintln(w)
	return nil
}

func runLockClear(ctx context.Context, w io.Writer, locks lock.Inspector, period types.Period) error {
	if err := locks.ForceRelease(ctx, period); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: lock cleared\n", period)
	return nil
}
