// Package cli holds the pieces shared by every virtsession command.
package cli

import (
	"os"

	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/logging"
	"github.com/grovetools/virtsession/pkg/paths"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommandOptions holds the standard persistent flags.
type CommandOptions struct {
	ConfigFile string
	Socket     string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a command carrying the standard flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	cmd.PersistentFlags().String("socket", "", "Path to the session control socket")

	return cmd
}

// GetOptions extracts the standard options from a command.
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	socket, _ := cmd.Flags().GetString("socket")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if socket == "" {
		socket = paths.SocketPath()
	}
	return CommandOptions{
		ConfigFile: configFile,
		Socket:     socket,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// GetLogger returns the component logger, raised to debug with --verbose.
func GetLogger(cmd *cobra.Command, component string) *logrus.Entry {
	entry := logging.NewLogger(component)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	return entry
}

// InitConfig resolves the configuration file path: the flag, then
// VIRTSESSION_CONFIG, then the XDG default.
func InitConfig(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if env := os.Getenv("VIRTSESSION_CONFIG"); env != "" {
		return env
	}
	return paths.ConfigFilePath()
}

// LoadConfig loads the configuration at path and configures logging from
// it. A missing file yields the defaults.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, errors.ErrCodeConfigNotFound) {
		cfg, err = &config.Config{}, nil
		cfg.SetDefaults()
	}
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg)
	return cfg, nil
}
