package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/store"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <store-dir>",
		Short: "Walk a FileStore directory, decode every entry, and re-hash it against the content digest recorded at write time",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return verifyStore(args[0])
		},
	}
}

func verifyStore(storeDir string) error {
	st, err := store.NewFileStore(storeDir)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	ctx := context.Background()
	checked, corrupt := 0, 0

	err = filepath.Walk(storeDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || !strings.HasSuffix(path, ".gob") {
			return nil
		}

		base := strings.TrimSuffix(filepath.Base(path), ".gob")
		fp, err := orcahash.ParseDigest(base)
		if err != nil {
			fmt.Printf("UNPARSEABLE  %s: %v\n", path, err)
			corrupt++
			return nil
		}

		checked++
		if err := st.VerifyContent(ctx, fp); err != nil {
			fmt.Printf("CORRUPT      %s: %v\n", path, err)
			corrupt++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify: walking %s: %w", storeDir, err)
	}

	fmt.Printf("checked %d entries, %d corrupt\n", checked, corrupt)
	if corrupt > 0 {
		return fmt.Errorf("verify: %d corrupt entries under %s", corrupt, storeDir)
	}
	return nil
}
