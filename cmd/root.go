// Package cmd implements the virtsession command line.
package cmd

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/grovetools/virtsession/cli"
	"github.com/grovetools/virtsession/pkg/client"
	"github.com/grovetools/virtsession/pkg/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"virtsession",
		"Supervise hypervisor connections and the background work run against them",
	)

	root.AddCommand(newRunCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newConnectionsCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newEntityCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newVersionCmd())

	cli.SetStyledHelp(root)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		return 1
	}
	return 0
}

// settings layers VIRTSESSION_* environment variables under cmd's flags.
func settings(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("VIRTSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())
	return v
}

func socketPath(v *viper.Viper) string {
	if s := v.GetString("socket"); s != "" {
		return s
	}
	return paths.SocketPath()
}

func newClient(cmd *cobra.Command) (*client.Client, *viper.Viper) {
	v := settings(cmd)
	return client.New(socketPath(v)), v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
