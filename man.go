package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:          "man",
	Short:        "Generate man pages",
	SilenceUsage: true,
	Hidden:       true,
	Args:         cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		manPage, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return fmt.Errorf("unable to generate man page: %w", err)
		}
		fmt.Println(manPage.Build(roff.NewDocument()))
		return nil
	},
}
