package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/config"
	"go-xenocanto-download/internal/query"
)

var (
	countCriteria query.Criteria
	countPageSize int
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Show how many recordings match the filters without downloading",
	Long: `Runs a single one-result request for the query built from the filter flags and
prints the number of matching recordings and species.`,
	Example: `  xenocanto-downloader count --genus Turdus --country Germany`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := buildQuery(countCriteria)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client, err := newAPIClient(globalConfig)
		if err != nil {
			return err
		}
		defer client.Close()

		meta, err := client.GetMetadata(ctx, q)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Query:      %s\n", q)
		fmt.Fprintf(out, "Recordings: %d\n", meta.NumRecordings)
		fmt.Fprintf(out, "Species:    %d\n", meta.NumSpecies)
		fmt.Fprintf(out, "Pages:      %d (at %d per page)\n", pagesFor(meta.NumRecordings, countPageSize), countPageSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
	addFilterFlags(countCmd, &countCriteria)
	// Not named per-page: that name feeds Download.PerPage and its 50-500 check.
	countCmd.Flags().IntVar(&countPageSize, "page-size", config.DefaultConfigDownloadPerPage, "Page size used for the page estimate only")
}

// pagesFor is the number of pages needed for n results; never less than 1.
func pagesFor(n, perPage int) int {
	if perPage <= 0 || n <= 0 {
		return 1
	}
	return (n + perPage - 1) / perPage
}
