// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kraklabs/dulge/internal/ui"
	"github.com/kraklabs/dulge/pkg/handle"
	"github.com/kraklabs/dulge/pkg/transaction"
)

func runInstall(h *handle.Handle, patterns []string, force bool) error {
	if len(patterns) == 0 {
		return fmt.Errorf("install: at least one package pattern is required")
	}
	ctx := context.Background()
	b := h.Builder(ctx)
	tx := transaction.New()
	for _, pattern := range patterns {
		if err := tx.InstallPkg(b, pattern, force); err != nil {
			return err
		}
	}
	return prepareAndExecute(h, b, tx)
}

func runUpdate(h *handle.Handle, args []string, force bool) error {
	ctx := context.Background()
	b := h.Builder(ctx)
	tx := transaction.New()
	if len(args) == 0 {
		if err := tx.UpdateAll(b); err != nil {
			return err
		}
	} else {
		for _, pattern := range args {
			if err := tx.UpdatePkg(b, pattern, force); err != nil {
				return err
			}
		}
	}
	return prepareAndExecute(h, b, tx)
}

// prepareAndExecute runs the common prepare/execute sequence every
// mutating subcommand shares, printing the plan, any demoted
// warnings, and a final summary line.
func prepareAndExecute(h *handle.Handle, b *transaction.Builder, tx *transaction.Transaction) error {
	diags, err := tx.Prepare(b)
	if err != nil {
		printDiagnostics(diags)
		return err
	}
	printDiagnostics(diags)

	if len(tx.Packages) == 0 {
		ui.Header("Nothing to do.")
		return nil
	}

	printPlan(tx)

	ex := h.Executor(context.Background(), printState, nil)
	if err := ex.Execute(tx); err != nil {
		return err
	}

	ui.Header(fmt.Sprintf("Done: %d installed, %d updated, %d removed, %d held",
		tx.Counters.Install, tx.Counters.Update, tx.Counters.Remove, tx.Counters.Hold))
	return nil
}

func printPlan(tx *transaction.Transaction) {
	ui.Header("Transaction plan:")
	for _, p := range tx.Packages {
		fmt.Printf("  %-10s %s\n", p.Type, p.Pkgver)
	}
}

func printDiagnostics(d transaction.Diagnostics) {
	for _, diag := range d.MissingDeps {
		ui.Warn("missing-reverse-dependency: %s", diag.String())
	}
	for _, diag := range d.MissingShlibs {
		ui.Warn("unresolvable-shlib: %s", diag.String())
	}
	for _, diag := range d.Conflicts {
		ui.Warn("conflict: %s", diag.String())
	}
}

func printState(ev transaction.StateEvent) {
	if ui.Quiet {
		return
	}
	if ev.Err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", ev.Event, ev.Pkgver, ev.Err)
		return
	}
	fmt.Printf("%s %s\n", ui.DimText(ev.Event), ev.Pkgver)
}
