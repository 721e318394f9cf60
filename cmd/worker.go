package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipejob/internal/app"
	"pipejob/internal/metrics"
	"pipejob/internal/tasks"
	"pipejob/internal/worker"
)

var workerMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker for this execution location",
	Long: `Starts an asynq worker that runs the tasks of pipeline jobs queued for
worker.location. Jobs whose next task belongs to another location are
forwarded to that location's queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		if err := runWorker(appInstance); err != nil {
			log.Errorf("Worker exited with error: %v", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. ':9100')")
}

func runWorker(appInstance *app.App) error {
	cfg := appInstance.Config
	if !cfg.Distributed() {
		return errors.New("worker requires redis.address; use 'pipejob run' for in-process execution")
	}
	location := cfg.Worker.Location
	q, ok := appInstance.Queues[location]
	if !ok {
		return fmt.Errorf("no queue configured for worker location %s", location)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues:      map[string]int{tasks.QueueName(location): cfg.Worker.Queues[location]},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Errorf("Asynq task failed: task_id=%s type=%s payload=%s err=%v",
					task.ResultWriter().TaskID(), task.Type(), string(task.Payload()), err)
			}),
			Logger: log.StandardLogger(),
		},
	)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, worker.RunJobDeps{Jobs: appInstance.Jobs, Queue: q})

	if workerMetricsAddr != "" {
		go func() {
			log.Infof("Serving worker metrics on %s/metrics", workerMetricsAddr)
			m := http.NewServeMux()
			m.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(workerMetricsAddr, m); err != nil {
				log.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	log.Infof("Starting pipeline worker (location: %s, concurrency: %d)...", location, cfg.Worker.Concurrency)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("Shutdown signal received. Initiating graceful shutdown...")
	srv.Stop()
	srv.Shutdown()

	log.Info("Worker shutdown complete.")
	return nil
}
