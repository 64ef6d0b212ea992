package cmd

import (
	"fmt"
	"slices"

	"github.com/grovetools/virtsession/errors"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/spf13/cobra"
)

var entityActions = []string{
	models.ActionRun,
	models.ActionShutdown,
	models.ActionReboot,
	models.ActionSuspend,
	models.ActionResume,
	models.ActionDestroy,
}

func newEntityCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "entity ACTION URI ID",
		Short:     "Run a power action on an entity",
		Long:      "ACTION is one of run, shutdown, reboot, suspend, resume or destroy.",
		Example:   "virtsession entity shutdown docker:///var/run/docker.sock web",
		Args:      cobra.ExactArgs(3),
		ValidArgs: entityActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if !slices.Contains(entityActions, action) {
				return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", action))
			}
			c, _ := newClient(cmd)
			defer c.Close()

			if err := c.EntityAction(cmd.Context(), models.EntityActionRequest{URI: args[1], ID: args[2], Action: action}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: done\n", action, args[2])
			return nil
		},
	}
}
