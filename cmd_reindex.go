package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the identity and knowledge-base name indexes once",
	Long: "Loads both name indexes from the database and reports their sizes. Useful to\n" +
		"check that the stored data is readable before starting the server.",
	RunE: runReindex,
}

func runReindex(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Reindex(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "identity: %d entries, knowledge: %d names\n",
		a.resolver.Index().Len(), a.matcher.Index().Len())
	return nil
}
