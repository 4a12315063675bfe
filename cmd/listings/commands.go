package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jrsteele09/go-listings-client/client"
	"github.com/jrsteele09/go-listings-client/listings"
	"github.com/jrsteele09/go-listings-client/remote"
	"github.com/pkg/errors"
)

func runCommand(ctx context.Context, lc *client.Client, command string, args []string, out io.Writer) error {
	switch command {
	case "listings":
		if err := lc.LoadListings(ctx); err != nil {
			return err
		}
		return printListings(lc, out)

	case "brokers":
		if err := lc.LoadBrokers(ctx); err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL")
		for _, b := range lc.Collections().Snapshot(remote.Brokers) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.String("name"), b.String("email"))
		}
		return w.Flush()

	case "favorites":
		if err := lc.Idle(ctx); err != nil {
			return err
		}
		if err := lc.LoadFavorites(ctx); err != nil {
			return err
		}
		for _, f := range lc.Collections().Snapshot(remote.Favorites) {
			fmt.Fprintln(out, f.ID)
		}
		return nil

	case "favorite":
		if len(args) != 1 {
			return errors.New("favorite takes one listing id")
		}
		// The favorites reload started by sign in decides the toggle direction.
		if err := lc.Idle(ctx); err != nil {
			return err
		}
		pending, err := lc.ToggleFavorite(ctx, args[0])
		if err != nil {
			return err
		}
		result, err := pending.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "favorite %s: %s (now favorite: %t)\n", args[0], result.Status, lc.Collections().IsFavorite(args[0]))
		return nil

	case "support":
		if len(args) != 2 {
			return errors.New("support takes a subject and a body")
		}
		pending, err := lc.SendSupportMessage(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		result, err := pending.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "support message %s: %s\n", result.ResourceID, result.Status)
		return nil

	case "activity":
		return printActivity(lc, out)
	}
	return errors.Errorf("unknown command %q", command)
}

func printListings(lc *client.Client, out io.Writer) error {
	rows, err := listings.FromResources(lc.Collections().Snapshot(remote.Listings))
	if err != nil {
		// Malformed rows are reported but the rest still print.
		fmt.Fprintf(out, "warning: %v\n", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tINDUSTRY\tPRICE\tSTATUS\tFAVORITE")
	for _, l := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%t\n", l.ID, l.DisplayTitle(), l.Industry, l.Price, l.Status, lc.Collections().IsFavorite(l.ID))
	}
	return w.Flush()
}

func printActivity(lc *client.Client, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tTARGET")
	for entry := range lc.Activity().All() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Timestamp.Format("15:04:05"), entry.Action, entry.Target)
	}
	return w.Flush()
}
