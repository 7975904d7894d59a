package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
)

// entryLister is the read side of ledger.Service.
type entryLister interface {
	List(ctx context.Context, period types.Period, status ledger.Status) ([]ledger.Entry, error)
	Verify(ctx context.Context, period types.Period) ([]ledger.Problem, error)
}

func newEntriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Read period ledgers",
	}

	var status, format string
	list := &cobra.Command{
		Use:   "list <YYYY-MM>",
		Short: "List the entries of a period",
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
			return runEntriesList(ctx, cmd.OutOrStdout(), a.Ledger, period, ledger.Status(strings.ToUpper(status)), format)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status: POSTED or CANCELED")
	list.Flags().StringVar(&format, "format", "text", "output format: text or json")

	cmd.AddCommand(list)
	return cmd
}

func runEntriesList(ctx context.Context, w io.Writer, svc entryLister, period types.Period, status ledger.Status, format string) error {
	entries, err := svc.List(ctx, period, status)
	if err != nil {
		return err
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tVOUCHER\tSTATUS\tBIZ TYPE\tCEDANT\tCURR\tBALANCE\tREF")
	for _, e := range entries {
		ref := e.CancelOfVIN
		if ref == "" {
			ref = e.CanceledByVIN
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SeqNo, e.VoucherNo, e.Status, e.BizType, e.CedantCompany, e.Curr, e.Balance.StringFixed(2), ref)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d entries\n", len(entries))
	return nil
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <YYYY-MM>",
		Short: "Check a period ledger for numbering and cancellation problems",
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
			return runVerify(ctx, cmd.OutOrStdout(), a.Ledger, period)
		},
	}
}

func runVerify(ctx context.Context, w io.Writer, svc entryLister, period types.Period) error {
	problems, err := svc.Verify(ctx, period)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		fmt.Fprintf(w, "%s: ok\n", period)
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(w, "row %d %s: %s\n", p.Row, p.VoucherNo, p.Message)
	}
	return fmt.Errorf("%s: %d problem(s) found", period, len(problems))
}
