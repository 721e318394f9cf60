package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pipejob/internal/clix"
	"pipejob/internal/models"
)

var (
	listStatus    string
	listContainer string
	listParent    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline jobs",
	Long:  `Displays job status records, newest first. Supports pagination and filtering by status, container and split parent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get app from context: %w", err)
		}

		recs, err := appInstance.Store.ListStatuses(cmd.Context(), models.StatusFilter{
			Container:  listContainer,
			Status:     listStatus,
			ParentGUID: listParent,
			Limit:      pagination.Limit,
			Offset:     pagination.Offset,
		})
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job", "Type", "Status", "Active Task", "Container", "Updated At"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, rec := range recs {
			table.Append([]string{
				rec.JobGUID,
				rec.JobType,
				colorStatus(rec.Status),
				rec.ActiveTask,
				rec.Container,
				rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	listCmd.Flags().Int("offset", 0, "number of jobs to skip")
	listCmd.Flags().StringVar(&listStatus, "status", "", "only jobs with this status, e.g. ERROR")
	listCmd.Flags().StringVar(&listContainer, "container", "", "only jobs in this container")
	listCmd.Flags().StringVar(&listParent, "parent", "", "only split jobs of this parent job")
}

func colorStatus(status string) string {
	switch status {
	case models.JobStatusComplete:
		return color.GreenString(status)
	case models.JobStatusError:
		return color.RedString(status)
	case models.JobStatusCancelled, models.JobStatusInterrupted:
		return color.YellowString(status)
	}
	return status
}
