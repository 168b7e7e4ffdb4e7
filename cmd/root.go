package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/paperfold/fortuneteller/internal/config"
	"github.com/paperfold/fortuneteller/internal/logging"
	"github.com/paperfold/fortuneteller/internal/processing"
)

// flagKeys maps config keys to the flags that override them
var flagKeys = map[string]string{
	"remote.base_url":         "api-url",
	"remote.timeout":          "timeout",
	"log.level":               "log-level",
	"log.format":              "log-format",
	"server.port":             "port",
	"server.session_ttl":      "session-ttl",
	"server.max_upload_bytes": "max-upload-bytes",
}

type app struct {
	configFile string
	cfg        *config.Config
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "fortuneteller",
		Short: "Front-end for the paper fortune teller segmentation service",
		Long: `Fortune Teller Studio uploads photos of paper fortune tellers to a processing
service and shows what comes back.

It can split one image into its named segments, or rebuild a fortune teller
from six composite images. Run "serve" for the browser interface, or use the
process and reconstruct commands directly from a terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			flags := make(map[string]*pflag.Flag, len(flagKeys))
			for key, name := range flagKeys {
				if f := cmd.Flags().Lookup(name); f != nil {
					flags[key] = f
				}
			}
			cfg, err := config.Load(config.LoadOptions{
				ConfigFile: a.configFile,
				Flags:      flags,
			})
			if err != nil {
				return err
			}
			if err := logging.Setup(os.Stderr, cfg.Log); err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (default: ./fortuneteller.yaml if present)")
	pf.String("api-url", "", "Base URL of the processing service (env: API_URL)")
	pf.Duration("timeout", 0, "Timeout for each request to the processing service (0 for none)")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-format", "", "Log format: text, json or logfmt")

	// Add subcommands
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newProcessCmd(a))
	cmd.AddCommand(newReconstructCmd(a))
	cmd.AddCommand(newCleanupCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

func (a *app) client() *processing.Client {
	return processing.NewClient(a.cfg.Remote.BaseURL, processing.WithTimeout(a.cfg.Remote.Timeout))
}
