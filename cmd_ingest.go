package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giygas/drug-registry/ingest"
)

var (
	ingestFile    string
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record knowledge-base observations from a TSV, CSV or XLSX file",
	Long: "Reads observations from a local file or an http(s) URL and votes them into the\n" +
		"knowledge base in one transaction. Prints the ingestion report as JSON.",
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path or URL of the observation file")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 5*time.Minute, "download timeout for URLs")
	_ = ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := ingest.NewRunner(a.ingestor, a.matcher, ingestTimeout)
	report, err := runner.Run(cmd.Context(), ingestFile)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", ingestFile, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
