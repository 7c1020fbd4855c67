// Command muralgen is a thin CLI over the muralgen client: it is the
// composition root that wires the queue, cache and transport once and
// drives them from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen"
	"github.com/muralgen/muralgen/config"
)

var version = "dev"

type rootFlags struct {
	configPath string
	baseURL    string
	apiKey     string
	remoteAddr string
}

func main() {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:     "muralgen",
		Short:   "AI wallpaper generation client",
		Version: version,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "generation API base URL")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", "", "generation API key")
	root.PersistentFlags().StringVar(&flags.remoteAddr, "remote-cache", "", "redis address for the shared cache tier")

	root.AddCommand(
		newGenerateCmd(flags),
		newComposeCmd(flags),
		newVariantCmd(flags),
		newRestyleCmd(flags),
		newModelsCmd(flags),
		newCacheCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient builds a client from the config file plus flag overrides.
func newClient(cmd *cobra.Command, flags *rootFlags) (*muralgen.Client, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	var options []config.Option
	options = append(options, config.WithLogger(logger))
	if flags.baseURL != "" {
		options = append(options, config.WithBaseURL(flags.baseURL))
	}
	if flags.apiKey != "" {
		options = append(options, config.WithAPIKey(flags.apiKey))
	}
	if flags.remoteAddr != "" {
		options = append(options, config.WithRemoteCache(flags.remoteAddr))
	}

	var cfg *config.Config
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath, options...)
	} else {
		cfg, err = config.New(options...)
	}
	if err != nil {
		return nil, err
	}

	return muralgen.New(cmd.Context(), cfg)
}
