package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"manifest/internal/core"
	"manifest/internal/logger"
	"manifest/internal/optimizer"
	"manifest/internal/pipeline"
)

var packCmd = &cobra.Command{
	Use:   "pack [query...]",
	Short: "Select what to bring for a mission under a weight budget",
	Long: `Retrieve candidate items for the mission query and solve the packing
problem: maximize relevance under a hard weight cap and diversity rules.
Constraints come from a named preset or from individual flags, not both.

Example:
  manifest pack "3-day winter hike" --preset carry_on_luggage
  manifest pack "drone drop to a stranded hiker" --max-weight 5000 --min-category medical=2
  manifest pack "relief flight" --preset medical_relief --container crate=20000 --container crate2=15000
  manifest pack "weekend trip" --max-weight 8000 --explain`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		query := strings.Join(args, " ")

		cons, err := constraintsFromFlags(cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		topK, _ := cmd.Flags().GetInt("top-k")
		category, _ := cmd.Flags().GetString("category")
		userID, _ := cmd.Flags().GetString("user")
		explain, _ := cmd.Flags().GetBool("explain")
		containerSpecs, _ := cmd.Flags().GetStringArray("container")

		opts := pipeline.PackOptions{TopK: topK, Category: category, UserID: userID}
		p := newPipeline()
		ctx := context.Background()

		if len(containerSpecs) > 0 {
			containers, err := parseContainers(containerSpecs)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			result, err := p.PackMulti(ctx, query, optimizer.ExpandContainers(containers), cons, opts)
			if err != nil {
				logger.Error("Pack failed", err, "query", query)
				os.Exit(1)
			}
			printMultiBinResult(result)
			return
		}

		if explain {
			result, plan, err := p.PackAndExplain(ctx, query, cons, opts)
			if err != nil {
				logger.Error("Pack failed", err, "query", query)
				os.Exit(1)
			}
			printPackResult(result)
			if plan != nil {
				fmt.Println()
				printPlan(plan)
			}
			return
		}

		result, err := p.Pack(ctx, query, cons, opts)
		if err != nil {
			logger.Error("Pack failed", err, "query", query)
			os.Exit(1)
		}
		printPackResult(result)
	},
}

// constraintsFromFlags resolves the preset or assembles constraints from the
// individual flags. A preset and explicit constraint flags are mutually
// exclusive.
func constraintsFromFlags(cmd *cobra.Command) (core.PackingConstraints, error) {
	presetName, _ := cmd.Flags().GetString("preset")
	maxWeight, _ := cmd.Flags().GetFloat64("max-weight")
	minCategories, _ := cmd.Flags().GetStringArray("min-category")
	maxCategories, _ := cmd.Flags().GetStringArray("max-category")
	minTags, _ := cmd.Flags().GetStringArray("min-tag")
	maxPerItem, _ := cmd.Flags().GetInt("max-per-item")
	pins, _ := cmd.Flags().GetStringArray("pin")

	explicit := maxWeight > 0 || len(minCategories) > 0 || len(maxCategories) > 0 ||
		len(minTags) > 0 || maxPerItem > 0 || len(pins) > 0

	if presetName != "" {
		if explicit {
			return core.PackingConstraints{}, fmt.Errorf("--preset cannot be combined with explicit constraint flags")
		}
		cons, ok := optimizer.Preset(presetName)
		if !ok {
			return core.PackingConstraints{}, fmt.Errorf("unknown preset %q (run 'manifest presets' to list them)", presetName)
		}
		return cons, nil
	}

	if maxWeight <= 0 {
		return core.PackingConstraints{}, fmt.Errorf("either --preset or --max-weight is required")
	}

	catMins, err := parseCounts(minCategories)
	if err != nil {
		return core.PackingConstraints{}, err
	}
	catMaxs, err := parseCounts(maxCategories)
	if err != nil {
		return core.PackingConstraints{}, err
	}
	tagMins, err := parseCounts(minTags)
	if err != nil {
		return core.PackingConstraints{}, err
	}

	return core.PackingConstraints{
		MaxWeightGrams:   maxWeight,
		CategoryMinimums: catMins,
		CategoryMaximums: catMaxs,
		TagMinimums:      tagMins,
		MaxPerItem:       maxPerItem,
		PinnedItems:      pins,
	}, nil
}

// parseCounts parses repeated "name=count" flag values into a map.
func parseCounts(pairs []string) (map[string]int, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	counts := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid constraint %q, expected name=count", pair)
		}
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("invalid count in constraint %q", pair)
		}
		counts[name] = count
	}
	return counts, nil
}

// parseContainers parses repeated "name=max_grams" flag values.
func parseContainers(specs []string) ([]optimizer.ContainerRequest, error) {
	containers := make([]optimizer.ContainerRequest, 0, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid container %q, expected name=max_grams", spec)
		}
		maxGrams, err := strconv.ParseFloat(value, 64)
		if err != nil || maxGrams <= 0 {
			return nil, fmt.Errorf("invalid capacity in container %q", spec)
		}
		containers = append(containers, optimizer.ContainerRequest{
			ContainerID:    name,
			Name:           name,
			MaxWeightGrams: maxGrams,
		})
	}
	return containers, nil
}

func printPackResult(result core.PackingResult) {
	fmt.Printf("Status: %s  (%.0f ms)\n", result.Status, result.SolverTimeMs)
	for _, packed := range result.PackedItems {
		fmt.Printf("  %dx %s  %.0f g\n", packed.Quantity, packed.Item.Name, float64(packed.Quantity)*packed.Item.WeightGrams)
	}
	fmt.Printf("Total: %.0f g (%.0f%% of budget), score %.2f\n",
		result.TotalWeightGrams, result.WeightUtilization*100, result.TotalSimilarityScore)
	for _, note := range result.RelaxedConstraints {
		fmt.Printf("! %s\n", note)
	}
}

func printMultiBinResult(result core.MultiBinResult) {
	fmt.Printf("Status: %s  (%.0f ms)\n", result.Status, result.SolverTimeMs)
	for _, pack := range result.Containers {
		fmt.Printf("%s: %.0f g (%.0f%%)\n", pack.Container.Name, pack.TotalWeightGrams, pack.Utilization*100)
		for _, packed := range pack.PackedItems {
			fmt.Printf("  %dx %s  %.0f g\n", packed.Quantity, packed.Item.Name, float64(packed.Quantity)*packed.Item.WeightGrams)
		}
	}
	fmt.Printf("Total: %.0f g, score %.2f, %d items left behind\n",
		result.TotalWeightGrams, result.TotalSimilarityScore, len(result.UnpackedItems))
	for _, note := range result.RelaxedConstraints {
		fmt.Printf("! %s\n", note)
	}
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().String("preset", "", "Named constraint preset (see 'manifest presets')")
	packCmd.Flags().Float64("max-weight", 0, "Hard weight cap in grams")
	packCmd.Flags().StringArray("min-category", nil, "Category minimum as name=count, repeatable")
	packCmd.Flags().StringArray("max-category", nil, "Category maximum as name=count, repeatable")
	packCmd.Flags().StringArray("min-tag", nil, "Semantic tag minimum as name=count, repeatable")
	packCmd.Flags().Int("max-per-item", 0, "Cap units of any single item (0 = quantity owned)")
	packCmd.Flags().StringArray("pin", nil, "Item id that must be packed, repeatable")
	packCmd.Flags().StringArray("container", nil, "Container as name=max_grams, repeatable; switches to multi-bin packing")
	packCmd.Flags().Bool("explain", false, "Have the synthesis model explain the result")
	packCmd.Flags().Int("top-k", 0, "Number of candidates to retrieve")
	packCmd.Flags().String("category", "", "Restrict candidates to one category")
	packCmd.Flags().String("user", "", "Restrict candidates to one owner's items")
}
