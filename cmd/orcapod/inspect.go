package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/store"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <store-dir> <fingerprint>",
		Short: "Print the materialized table stored under a fingerprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return inspectFingerprint(args[0], args[1])
		},
	}
}

func inspectFingerprint(storeDir, fingerprint string) error {
	fp, err := orcahash.ParseDigest(fingerprint)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	st, err := store.NewFileStore(storeDir)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	ctx := context.Background()
	t, err := st.GetTable(ctx, fp)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	names := t.Schema().Names()
	fmt.Println(strings.Join(names, "\t"))
	for row := 0; row < t.NumRows(); row++ {
		cells := make([]string, len(names))
		for i, name := range names {
			col, _ := t.Column(name)
			cells[i] = formatCell(col.At(row))
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Fprintf(os.Stderr, "%d rows, %d columns\n", t.NumRows(), len(names))
	return nil
}
