package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/internal/client"
	"github.com/autopatch-dev/autopatch/pkg/printer"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List managed servers",
	RunE: func(_ *cobra.Command, _ []string) error {
		servers, err := client.NewClientFromEnv().ListServers()
		if err != nil {
			return err
		}
		table := printer.NewTablePrinter(os.Stdout)
		table.SetHeaders("id", "hostname", "ip", "status", "updates", "security", "last seen")
		for _, s := range servers {
			lastSeen := "never"
			if s.LastSeen != nil {
				lastSeen = s.LastSeen.Format(time.RFC3339)
			}
			table.AddRow(s.ID, s.Hostname, s.IP, s.Status, s.UpdatesCount, s.SecurityUpdatesCount, lastSeen)
		}
		return table.Render()
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE: func(_ *cobra.Command, _ []string) error {
		jobs, err := client.NewClientFromEnv().ListJobs()
		if err != nil {
			return err
		}
		table := printer.NewTablePrinter(os.Stdout)
		table.SetHeaders("id", "server", "type", "status", "scheduled at", "approval")
		for _, j := range jobs {
			scheduledAt := "asap"
			if j.ScheduledAt != nil {
				scheduledAt = j.ScheduledAt.Format(time.RFC3339)
			}
			approval := "not required"
			if j.RequiresApproval {
				approval = "required"
				if j.ApprovedBy != nil {
					approval = fmt.Sprintf("decided by user %d", *j.ApprovedBy)
				}
			}
			table.AddRow(j.ID, j.ServerID, j.JobType, j.Status, scheduledAt, approval)
		}
		return table.Render()
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage the approval queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		jobs, err := client.NewClientFromEnv().ListApprovals()
		if err != nil {
			return err
		}
		table := printer.NewTablePrinter(os.Stdout)
		table.SetHeaders("id", "server", "type", "created at")
		for _, j := range jobs {
			table.AddRow(j.ID, j.ServerID, j.JobType, j.CreatedAt.Format(time.RFC3339))
		}
		return table.Render()
	},
}

func decisionCmd(use, short string, decide func(*client.Client, int64, string) error) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var jobID int64
			if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return decide(client.NewClientFromEnv(), jobID, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decision reason, stored in the audit trail")
	return cmd
}

func init() {
	approvalsCmd.AddCommand(decisionCmd("approve", "Approve a pending job", func(c *client.Client, id int64, reason string) error {
		job, err := c.ApproveJob(id, reason)
		if err != nil {
			return err
		}
		fmt.Printf("job %d is now %s\n", job.ID, job.Status)
		return nil
	}))
	approvalsCmd.AddCommand(decisionCmd("deny", "Deny a pending job", func(c *client.Client, id int64, reason string) error {
		job, err := c.DenyJob(id, reason)
		if err != nil {
			return err
		}
		fmt.Printf("job %d is now %s\n", job.ID, job.Status)
		return nil
	}))

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(approvalsCmd)
}
