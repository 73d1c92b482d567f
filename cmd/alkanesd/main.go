package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kungfuflex/alkanes/core"
	"github.com/kungfuflex/alkanes/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "alkanesd"}
	rootCmd.PersistentFlags().String("data-dir", "./data", "indexer state directory")
	rootCmd.PersistentFlags().String("env", "", "configuration environment to merge over default.yaml")

	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(stateRootCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openIndexer(cmd *cobra.Command) (*core.Indexer, error) {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		cfg = &config.AppConfig
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	flavor := core.ChainBitcoin
	if cfg.Chain.Flavor == "zcash-transparent" {
		flavor = core.ChainZcashTransparent
	}
	return core.NewIndexer(dataDir, core.IndexerConfig{
		SnapshotInterval: cfg.Storage.SnapshotInterval,
		ChainFlavor:      flavor,
		FuelPerBlock:     cfg.VM.FuelPerBlock,
	})
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <block-file> <height>",
		Short: "decode a raw serialized block and apply it at the given height",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndexer(cmd)
			if err != nil {
				return err
			}
			defer idx.Close()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			height, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return err
			}
			blk, err := core.DecodeBlock(height, raw, core.ChainBitcoin)
			if err != nil {
				return err
			}
			if err := idx.ApplyBlock(blk); err != nil {
				return err
			}
			root, err := idx.StateRootAt(height)
			if err != nil {
				return err
			}
			fmt.Printf("applied block %d, root %x\n", height, root)
			return nil
		},
	}
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <height>",
		Short: "discard every applied block above the given height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndexer(cmd)
			if err != nil {
				return err
			}
			defer idx.Close()

			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			if err := idx.RollbackTo(height); err != nil {
				return err
			}
			fmt.Printf("rolled back to height %d\n", height)
			return nil
		},
	}
}

func stateRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state-root <height>",
		Short: "print the sealed state root recorded at the given height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndexer(cmd)
			if err != nil {
				return err
			}
			defer idx.Close()

			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			root, err := idx.StateRootAt(height)
			if err != nil {
				return err
			}
			fmt.Printf("%x\n", root)
			return nil
		},
	}
}
