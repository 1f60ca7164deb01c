// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"

	"github.com/kraklabs/dulge/pkg/handle"
	"github.com/kraklabs/dulge/pkg/transaction"
)

func runRemove(h *handle.Handle, names []string, recursive bool) error {
	if len(names) == 0 {
		return fmt.Errorf("remove: at least one package name is required")
	}
	ctx := context.Background()
	b := h.Builder(ctx)
	tx := transaction.New()
	for _, name := range names {
		if err := tx.RemovePkg(b.DB, name, recursive); err != nil {
			return err
		}
	}
	return prepareAndExecute(h, b, tx)
}

func runAutoremove(h *handle.Handle) error {
	ctx := context.Background()
	b := h.Builder(ctx)
	tx := transaction.New()
	if err := tx.AutoremoveOrphans(b.DB); err != nil {
		return err
	}
	return prepareAndExecute(h, b, tx)
}
