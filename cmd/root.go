package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manifest/internal/config"
	"manifest/internal/logger"
	"manifest/internal/pipeline"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manifest catalogs physical items from photos and packs them for missions.",
	Long: `Manifest ingests photos of physical items, extracts a structured profile
for each one with a vision model, embeds them into a vector index, and
answers mission queries: semantic search over the catalog, and constrained
packing that selects what to bring under a weight budget.

Example:
  manifest ingest photos/jacket.jpg
  manifest search "keep warm on a winter hike"
  manifest pack "3-day winter hike" --preset carry_on_luggage --explain`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.manifest.yaml)")
}

// initConfig loads configuration and applies the configured log level.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.App.LogLevel)
}

// newPipeline builds the pipeline from the loaded configuration. Commands
// that touch providers or the store all go through here.
func newPipeline() *pipeline.Pipeline {
	p, err := pipeline.New(config.Get())
	if err != nil {
		logger.Error("Failed to initialize pipeline", err)
		os.Exit(1)
	}
	return p
}
