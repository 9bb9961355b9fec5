package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manifest/internal/logger"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many items are in the inventory",
	Run: func(cmd *cobra.Command, args []string) {
		p := newPipeline()
		count, err := p.Count(context.Background())
		if err != nil {
			logger.Error("Count failed", err)
			os.Exit(1)
		}
		fmt.Println(count)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [item-id]",
	Short: "Remove an item from the inventory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p := newPipeline()
		if err := p.Delete(context.Background(), args[0]); err != nil {
			logger.Error("Delete failed", err, "item_id", args[0])
			os.Exit(1)
		}
		fmt.Println("Deleted", args[0])
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(deleteCmd)
}
