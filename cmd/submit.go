package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipejob/internal/app"
	"pipejob/internal/clix"
	"pipejob/internal/pipeline"
)

var (
	submitContainer string
	submitUser      string
	submitWait      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <job-type> [key=value...]",
	Short: "Submit a pipeline job",
	Long: `Creates a job of the given type with the given parameters and queues it
for its first task. Without Redis the job runs in this process and submit
waits for it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		wait := submitWait
		if !appInstance.Config.Distributed() {
			wait = true
		}
		return submitJob(cmd.Context(), appInstance, args, wait)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <job-type> [key=value...]",
	Short: "Run a pipeline job in this process",
	Long: `Runs the tasks of a new job that belong to worker.location in this
process and waits for them. Tasks of other locations are still handed to
their queues.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		appInstance.RunLocally()
		return submitJob(cmd.Context(), appInstance, args, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, runCmd} {
		c.Flags().StringVar(&submitContainer, "container", "", "container the job belongs to")
		c.Flags().StringVar(&submitUser, "user", "", "user submitting the job")
		rootCmd.AddCommand(c)
	}
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for in-process tasks to finish")
}

func submitJob(ctx context.Context, appInstance *app.App, args []string, wait bool) error {
	params, err := clix.ParseParams(args[1:])
	if err != nil {
		return err
	}
	info := pipeline.BackgroundInfo{Container: submitContainer, User: submitUser, URL: "cli:" + app.Hostname()}

	job, err := appInstance.Submit(ctx, args[0], info, params)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	log.Debugf("Submitted job %s of type %s", job.GUID(), args[0])
	fmt.Printf("Submitted job %s\n", job.GUID())

	if !wait || appInstance.LocalQueue == nil {
		return nil
	}
	appInstance.LocalQueue.Wait()
	return printStatus(ctx, appInstance, job.GUID(), false)
}
