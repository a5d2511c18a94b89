package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/storage"
)

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	stateFlag := fs.String("state", "", "Filter by state (unfunded, funded, claimed, refunded)")
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var state storage.SwapState
	if *stateFlag != "" {
		var err error
		if state, err = storage.ParseSwapState(*stateFlag); err != nil {
			return err
		}
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	records, err := store.ListSwaps(state)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tNETWORK\tSTATE\tADDRESS\tTIMELOCK\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Symbol, r.Network, r.State, r.FundingAddress, r.Timelock,
			r.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}
