package cmd

import (
	"fmt"
	"strings"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/moby/patternmatcher"
	"github.com/spf13/cobra"
)

func newConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage registered connections",
	}
	cmd.AddCommand(newConnectionsListCmd())
	cmd.AddCommand(newConnectionsAddCmd())
	cmd.AddCommand(newConnectionsRemoveCmd())
	return cmd
}

func newConnectionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		Example: `virtsession connections list
virtsession connections list --match 'docker://*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v := newClient(cmd)
			defer c.Close()

			conns, err := c.Connections(cmd.Context())
			if err != nil {
				return err
			}
			conns, err = filterConnections(conns, v.GetStringSlice("match"))
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), conns)
			}
			if len(conns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No connections registered")
				return nil
			}

			rows := make([][]string, 0, len(conns))
			for _, conn := range conns {
				flags := []string{}
				if conn.Autoconnect {
					flags = append(flags, "autoconnect")
				}
				if conn.ReadOnly {
					flags = append(flags, "read-only")
				}
				if conn.Remote {
					flags = append(flags, "remote")
				}
				rows = append(rows, []string{
					conn.URI,
					conn.State,
					fmt.Sprintf("%d", len(conn.Entities)),
					fmt.Sprintf("%d", conn.Dependents),
					strings.Join(flags, ","),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"URI", "STATE", "ENTITIES", "WINDOWS", "FLAGS"}, rows)
			return nil
		},
	}
	cmd.Flags().StringSlice("match", nil, "Only show URIs matching these glob patterns")
	return cmd
}

// filterConnections keeps connections whose URI matches the patterns.
// Patterns follow .dockerignore rules, so a later !pattern excludes again.
func filterConnections(conns []models.ConnectionInfo, patterns []string) ([]models.ConnectionInfo, error) {
	if len(patterns) == 0 {
		return conns, nil
	}
	keys := make([]string, len(patterns))
	for i, p := range patterns {
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			keys[i] = "!" + uriKey(rest)
		} else {
			keys[i] = uriKey(p)
		}
	}
	pm, err := patternmatcher.New(keys)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid --match pattern")
	}
	var out []models.ConnectionInfo
	for _, conn := range conns {
		ok, err := pm.MatchesOrParentMatches(uriKey(conn.URI))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid --match pattern")
		}
		if ok {
			out = append(out, conn)
		}
	}
	return out, nil
}

func newConnectionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add URI",
		Short: "Register a connection",
		Example: `virtsession connections add docker:///var/run/docker.sock --autoconnect --open
virtsession connections add test:///default --readonly`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v := newClient(cmd)
			defer c.Close()

			info, err := c.AddConnection(cmd.Context(), models.AddConnectionRequest{
				URI:         args[0],
				ReadOnly:    v.GetBool("readonly"),
				Autoconnect: v.GetBool("autoconnect"),
				Open:        v.GetBool("open"),
			})
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", info.URI, info.State)
			return nil
		},
	}
	cmd.Flags().Bool("autoconnect", false, "Open the connection at startup")
	cmd.Flags().Bool("readonly", false, "Open the connection read-only")
	cmd.Flags().Bool("open", false, "Open the connection now")
	return cmd
}

func newConnectionsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove URI",
		Aliases: []string{"rm"},
		Short:   "Close and deregister a connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _ := newClient(cmd)
			defer c.Close()

			if err := c.RemoveConnection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

// uriKey turns a URI into a slash path so path patterns apply to it:
// "qemu+ssh://host/system" becomes "qemu+ssh/host/system".
func uriKey(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	return scheme + "/" + strings.TrimLeft(rest, "/")
}
