package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the audio cache",
	}

	cacheInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show cache location and size",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			dir, err := cacheDir()
			if err != nil {
				return err
			}
			s := store.Stats()
			size := humanize.IBytes(uint64(s.Size))         //nolint:gosec
			capacity := humanize.IBytes(uint64(s.Capacity)) //nolint:gosec
			printTable([][]string{
				{"location", dir},
				{"entries", fmt.Sprintf("%d", s.ItemCount)},
				{"size", size},
				{"capacity", capacity},
			})
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached audio",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			n := store.Len()
			size := store.Stats().Size
			if err := store.Clear(); err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			fmt.Printf("Cleared %d entries (%s).\n", n, humanize.IBytes(uint64(size))) //nolint:gosec
			return nil
		},
	}
)

func init() {
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
}
