package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manifest/internal/logger"
)

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Regenerate every stored embedding with the active provider",
	Long: `Re-embed the whole catalog. Run this after switching embedding
providers or output dimensions; items that fail keep their old vector.`,
	Run: func(cmd *cobra.Command, args []string) {
		p := newPipeline()
		updated, err := p.Reembed(context.Background())
		if err != nil {
			logger.Error("Re-embed failed", err)
			os.Exit(1)
		}
		fmt.Printf("Re-embedded %d items\n", updated)
	},
}

func init() {
	rootCmd.AddCommand(reembedCmd)
}
