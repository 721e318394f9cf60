// Package queue provides the execution substrates that drive pipeline jobs:
// an in-process queue and one backed by asynq.
package queue

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"pipejob/internal/metrics"
	"pipejob/internal/pipeline"
)

// Forwarder hands a job that stopped at another location's task to the queue
// serving that location.
type Forwarder interface {
	Forward(ctx context.Context, job *pipeline.Job) error
}

// RunJob drives job until it leaves this location, then forwards it if it is
// waiting on a task served elsewhere. The job's log is closed afterwards.
func RunJob(ctx context.Context, job *pipeline.Job, location string, fwd Forwarder) error {
	running := metrics.JobsRunning.WithLabelValues(location)
	running.Inc()
	defer running.Dec()
	defer job.Close()

	fields := log.Fields{"job": job.GUID(), "location": location}
	if err := job.Run(ctx); err != nil {
		var lost *pipeline.LostJobError
		switch {
		case errors.As(err, &lost):
			log.WithFields(fields).Warn("Job record was deleted while running")
		case errors.Is(err, pipeline.ErrInterrupted):
			log.WithFields(fields).Info("Job interrupted")
		default:
			log.WithFields(fields).WithError(err).Error("Job stopped")
		}
		return err
	}

	if fwd != nil && job.IsWaitingElsewhere() {
		if err := fwd.Forward(ctx, job); err != nil {
			log.WithFields(fields).WithError(err).Error("Failed to forward job")
			return err
		}
	}
	return nil
}
