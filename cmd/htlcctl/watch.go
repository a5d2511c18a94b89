package main

import (
	"context"
	"flag"

	"github.com/klingon-exchange/klingon-htlc/internal/watch"
)

// runWatch follows tracked swaps on chain, printing every state change.
func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var (
		interval = fs.Duration("interval", 0, "Polling interval (default 30s)")
		minConf  = fs.Int64("confirmations", 1, "Confirmations before a swap counts as funded")
		once     = fs.Bool("once", false, "Run a single pass and exit")
	)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	w, err := watch.New(&watch.Config{
		Store:            store,
		Backends:         a.backend,
		Chains:           a.chains,
		Interval:         *interval,
		MinConfirmations: *minConf,
		Logger:           a.log,
	})
	if err != nil {
		return err
	}

	if *once {
		err := w.CheckNow(ctx)
		w.Stop()
		for ev := range w.Events() {
			a.printEvent(ev)
		}
		return err
	}

	w.Start()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	for ev := range w.Events() {
		a.printEvent(ev)
	}
	return nil
}

func (a *app) printEvent(ev watch.Event) {
	a.printf("%s %-10s %s %s/%s", ev.Timestamp.Format("15:04:05"), ev.Kind, ev.SwapID, ev.Symbol, ev.Network)
	if ev.TxID != "" {
		a.printf(" txid=%s", ev.TxID)
	}
	if len(ev.Secret) > 0 {
		a.printf(" secret=%x", ev.Secret)
	}
	a.printf("\n")
}
