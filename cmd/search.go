package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"manifest/internal/core"
	"manifest/internal/logger"
	"manifest/internal/pipeline"
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search the inventory with a natural-language mission query",
	Long: `Embed the query, retrieve the closest items from the vector index,
and have the synthesis model curate them into a mission plan. Use --raw to
skip synthesis and print the retrieval hits only.

Example:
  manifest search "keep warm on a winter hike"
  manifest search --category medical --top-k 5 "treat a deep cut"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		query := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		category, _ := cmd.Flags().GetString("category")
		userID, _ := cmd.Flags().GetString("user")
		raw, _ := cmd.Flags().GetBool("raw")

		p := newPipeline()
		result, err := p.Search(context.Background(), query, pipeline.SearchOptions{
			TopK:       topK,
			Category:   category,
			UserID:     userID,
			Synthesize: !raw,
		})
		if err != nil {
			logger.Error("Search failed", err, "query", query)
			os.Exit(1)
		}

		if result.Plan != nil {
			printPlan(result.Plan)
			return
		}
		printItems(result.Items)
	},
}

func printItems(items []core.RetrievedItem) {
	if len(items) == 0 {
		fmt.Println("No matching items.")
		return
	}
	for _, item := range items {
		fmt.Printf("%.3f  %s  %s (%s)\n", item.Score, item.ItemID, item.Context.Name, item.Context.InferredCategory)
	}
}

func printPlan(plan *core.MissionPlan) {
	fmt.Println(plan.MissionSummary)
	fmt.Println()

	if len(plan.SelectedItems) > 0 {
		fmt.Println("Selected:")
		for _, item := range plan.SelectedItems {
			fmt.Printf("  + %s (%s)\n", item.Context.Name, item.Context.InferredCategory)
			if reason := plan.Reasoning[item.ItemID]; reason != "" {
				fmt.Printf("    %s\n", reason)
			}
		}
	}
	if len(plan.RejectedItems) > 0 {
		fmt.Println("Rejected:")
		for _, item := range plan.RejectedItems {
			fmt.Printf("  - %s (%s)\n", item.Context.Name, item.Context.InferredCategory)
			if reason := plan.Reasoning[item.ItemID]; reason != "" {
				fmt.Printf("    %s\n", reason)
			}
		}
	}
	for _, warning := range plan.Warnings {
		fmt.Printf("! %s\n", warning)
	}
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int("top-k", 0, "Number of items to retrieve (default from config)")
	searchCmd.Flags().String("category", "", "Restrict retrieval to one category")
	searchCmd.Flags().String("user", "", "Restrict retrieval to one owner's items")
	searchCmd.Flags().Bool("raw", false, "Skip synthesis and print raw retrieval hits")
}
