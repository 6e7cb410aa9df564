package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/helpers"
)

var infoListFolders bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarise the recordings already in the output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		out := cmd.OutOrStdout()

		if _, err := os.Stat(cfg.OutputDir); os.IsNotExist(err) {
			fmt.Fprintf(out, "No downloads found in %s\n", cfg.OutputDir)
			return nil
		}

		dl, err := newDownloader(cfg)
		if err != nil {
			return err
		}
		info, err := dl.Info()
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Output directory: %s\n", dl.OutputDir())
		fmt.Fprintf(out, "Species folders:  %d\n", info.SpeciesCount)
		fmt.Fprintf(out, "Files:            %d\n", info.TotalFiles)
		fmt.Fprintf(out, "Total size:       %s (%.2f MB)\n", helpers.BytesToSize(uint64(info.TotalBytes)), info.TotalSizeMB)
		if infoListFolders {
			for _, folder := range info.SpeciesFolders {
				fmt.Fprintf(out, "  %s\n", folder)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVarP(&infoListFolders, "folders", "l", false, "List species folder names")
}
