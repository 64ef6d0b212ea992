package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/virtsession/pkg/client"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const jobPollInterval = 250 * time.Millisecond

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Start and inspect background jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsSaveCmd())
	cmd.AddCommand(newJobsRestoreCmd())
	cmd.AddCommand(newJobsMigrateCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running and recently finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v := newClient(cmd)
			defer c.Close()

			jobs, err := c.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.ID, j.Label, j.State, j.StartedAt.Format("15:04:05"), j.Error})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "LABEL", "STATE", "STARTED", "ERROR"}, rows)
			return nil
		},
	}
}

func newJobsSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save URI ID [PATH]",
		Short: "Save an entity's state",
		Long:  "Saves an entity. Without PATH the connection keeps the saved image itself.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.SaveRequest{URI: args[0], ID: args[1]}
			if len(args) == 3 {
				req.Path = args[2]
			}
			return submitJob(cmd, func(ctx context.Context, c *client.Client) (*models.JobInfo, error) {
				return c.Save(ctx, req)
			})
		},
	}
	addWaitFlag(cmd)
	return cmd
}

func newJobsRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore URI PATH",
		Short: "Restore a saved entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJob(cmd, func(ctx context.Context, c *client.Client) (*models.JobInfo, error) {
				return c.Restore(ctx, models.RestoreRequest{URI: args[0], Path: args[1]})
			})
		},
	}
	addWaitFlag(cmd)
	return cmd
}

func newJobsMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate SOURCE ID DESTINATION",
		Short: "Move an entity to another connection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJob(cmd, func(ctx context.Context, c *client.Client) (*models.JobInfo, error) {
				return c.Migrate(ctx, models.MigrateRequest{Source: args[0], ID: args[1], Destination: args[2]})
			})
		},
	}
	addWaitFlag(cmd)
	return cmd
}

func addWaitFlag(cmd *cobra.Command) {
	cmd.Flags().BoolP("wait", "w", false, "Wait for the job to finish")
}

func submitJob(cmd *cobra.Command, start func(context.Context, *client.Client) (*models.JobInfo, error)) error {
	c, v := newClient(cmd)
	defer c.Close()

	job, err := start(cmd.Context(), c)
	if err != nil {
		return err
	}
	if job == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
		return nil
	}
	if v.GetBool("wait") {
		job, err = c.WaitJob(cmd.Context(), job.ID, jobPollInterval)
		if err != nil {
			return err
		}
	}
	return printJob(cmd, v, job)
}

func printJob(cmd *cobra.Command, v *viper.Viper, job *models.JobInfo) error {
	if v.GetBool("json") {
		return writeJSON(cmd.OutOrStdout(), job)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", job.Label, job.State, job.ID)
	return nil
}
