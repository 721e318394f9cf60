package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <job-guid>",
	Short: "Retry a job that errored, was interrupted or was cancelled",
	Long: `Resumes a job from its last checkpoint. Retrying a job in ERROR counts
as a failed attempt; interrupted and cancelled jobs simply resume.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}
		rec, err := appInstance.Store.GetStatus(ctx, args[0])
		if err != nil {
			return jobLookupError(args[0], err)
		}
		if err := appInstance.Jobs.RetryStatus(ctx, rec); err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}
		fmt.Printf("Retrying job %s\n", rec.JobGUID)

		if appInstance.LocalQueue != nil {
			appInstance.LocalQueue.Wait()
			return printStatus(ctx, appInstance, rec.JobGUID, false)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-guid>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}
		if err := appInstance.Jobs.Cancel(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		fmt.Printf("Cancelled job %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cancelCmd)
}
