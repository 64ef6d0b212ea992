package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/grovetools/virtsession/cli"
	"github.com/grovetools/virtsession/config"
	"github.com/grovetools/virtsession/errors"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSetCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := settings(cmd)
			path := cli.InitConfig(v.GetString("config"))
			cfg, err := cli.LoadConfig(path)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := config.Marshal(cfg, config.FormatFor(path))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a configuration file against the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cli.InitConfig(settings(cmd).GetString("config"))
			if len(args) == 1 {
				path = args[0]
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.ConfigNotFound(path)
				}
				return err
			}
			if _, err := config.LoadFromBytes(data, config.FormatFor(path)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a setting",
		Long: "Changes stats_update_interval (seconds) or view_system_tray (true/false). " +
			"A running session picks the change up from the file.",
		Example: `virtsession config set stats_update_interval 5
virtsession config set view_system_tray true`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"stats_update_interval", "view_system_tray"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cli.InitConfig(settings(cmd).GetString("config"))
			store, err := config.NewStore(path, cli.GetLogger(cmd, "config"))
			if err != nil {
				return err
			}

			switch args[0] {
			case "stats_update_interval":
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 1 {
					return errors.New(errors.ErrCodeInvalidInput, "stats_update_interval must be a positive number of seconds")
				}
				err = store.SetStatsUpdateInterval(n)
				if err != nil {
					return err
				}
			case "view_system_tray":
				b, err := strconv.ParseBool(args[1])
				if err != nil {
					return errors.New(errors.ErrCodeInvalidInput, "view_system_tray must be true or false")
				}
				if err := store.SetViewSystemTray(b); err != nil {
					return err
				}
			default:
				return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown setting %q", args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], args[1], path)
			return nil
		},
	}
}
