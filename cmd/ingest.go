package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manifest/internal/imageutil"
	"manifest/internal/logger"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [image...]",
	Short: "Catalog item photos into the inventory",
	Long: `Extract a structured profile from each image with the vision model,
embed it, and store it in the vector index. Images can be local paths or
http(s) URLs; several images are processed in order.

Example:
  manifest ingest photos/jacket.jpg
  manifest ingest https://cdn.example.com/tent.png photos/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userID, _ := cmd.Flags().GetString("user")

		sources := make([]imageutil.Source, 0, len(args))
		for _, ref := range args {
			sources = append(sources, imageutil.FromRef(ref))
		}

		p := newPipeline()
		outcomes := p.IngestBatch(context.Background(), sources, userID)

		failed := 0
		for i, out := range outcomes {
			if out.Err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "FAILED  %s: %v\n", args[i], out.Err)
				continue
			}
			fmt.Printf("%s  %s (%s)\n", out.ItemID, out.Context.Name, out.Context.InferredCategory)
		}

		if failed > 0 {
			logger.Warn("Some images failed to ingest", "failed", failed, "total", len(args))
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("user", "", "Owner id to tag the items with")
}
