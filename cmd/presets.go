package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"manifest/internal/optimizer"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in packing constraint presets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range optimizer.PresetNames() {
			cons, _ := optimizer.Preset(name)
			fmt.Printf("%s  (max %.0f g)\n", name, cons.MaxWeightGrams)
			for _, line := range describeCounts("category", cons.CategoryMinimums) {
				fmt.Printf("  %s\n", line)
			}
			for _, line := range describeCounts("tag", cons.TagMinimums) {
				fmt.Printf("  %s\n", line)
			}
			if cons.MaxPerItem > 0 {
				fmt.Printf("  at most %d of any item\n", cons.MaxPerItem)
			}
		}
	},
}

func describeCounts(kind string, counts map[string]int) []string {
	if len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s %s >= %d", kind, name, counts[name]))
	}
	return lines
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
