package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pipejob/internal/app"
	"pipejob/internal/models"
	"pipejob/internal/store"
)

var (
	statusShowLog bool
	statusLogFile string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-guid]",
	Short: "Show the status of a pipeline job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case len(args) == 1:
			return printStatus(cmd.Context(), appInstance, args[0], statusShowLog)
		case statusLogFile != "":
			rec, err := appInstance.Store.GetStatusByLogFile(cmd.Context(), statusLogFile)
			if err != nil {
				return jobLookupError(statusLogFile, err)
			}
			return printStatus(cmd.Context(), appInstance, rec.JobGUID, statusShowLog)
		}
		return errors.New("a job guid or --log-file is required")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusShowLog, "log", false, "print the job log file")
	statusCmd.Flags().StringVar(&statusLogFile, "log-file", "", "find the job by its log file path")
}

func printStatus(ctx context.Context, appInstance *app.App, guid string, showLog bool) error {
	rec, err := appInstance.Store.GetStatus(ctx, guid)
	if err != nil {
		return jobLookupError(guid, err)
	}
	printRecord(rec)
	if !showLog || rec.LogFile == "" {
		return nil
	}
	data, err := os.ReadFile(rec.LogFile)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	fmt.Println("---")
	os.Stdout.Write(data)
	return nil
}

func printRecord(rec *models.StatusRecord) {
	fmt.Printf("Job:         %s\n", rec.JobGUID)
	if rec.ParentGUID != "" {
		fmt.Printf("Parent:      %s\n", rec.ParentGUID)
	}
	fmt.Printf("Type:        %s\n", rec.JobType)
	fmt.Printf("Status:      %s\n", colorStatus(rec.Status))
	if rec.Info != "" {
		fmt.Printf("Info:        %s\n", rec.Info)
	}
	if rec.ActiveTask != "" {
		fmt.Printf("Active Task: %s\n", rec.ActiveTask)
	}
	if rec.Container != "" {
		fmt.Printf("Container:   %s\n", rec.Container)
	}
	if rec.User != "" {
		fmt.Printf("User:        %s\n", rec.User)
	}
	fmt.Printf("Log File:    %s\n", rec.LogFile)
	fmt.Printf("Created:     %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func jobLookupError(key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %s not found", key)
	}
	return fmt.Errorf("failed to load job %s: %w", key, err)
}
