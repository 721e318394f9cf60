package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/config"
	"pipejob/internal/jobstore"
	"pipejob/internal/pipeline"
	"pipejob/internal/queue"
	"pipejob/internal/steps"
	"pipejob/internal/store"
	"pipejob/internal/store/barrier"
	"pipejob/internal/store/local"
	"pipejob/internal/store/primary"
)

type App struct {
	Config *config.Config

	Store     store.Store
	Barrier   store.Barrier
	JobClient store.JobClient
	Inspector *asynq.Inspector
	Redis     *redis.Client

	Service *pipeline.Service
	Jobs    *jobstore.JobStore
	// Queues holds the queue of every execution location, keyed by location.
	Queues map[string]pipeline.Queue
	// LocalQueue is set once RunLocally has been called.
	LocalQueue *queue.LocalQueue
}

// NewApp wires the stores, the pipeline service and the queues described by
// cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Queues: make(map[string]pipeline.Queue)}

	if err := app.initLogging(); err != nil {
		return nil, err
	}
	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initRedis(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initService(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initQueues(); err != nil {
		app.Close()
		return nil, err
	}

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initLogging() error {
	level, err := log.ParseLevel(a.Config.Log.Level)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log.SetLevel(level)
	if a.Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case "postgres":
		ps, err := primary.NewPrimaryStore(ctx, a.Config.Database.DSN)
		if err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		a.Store = ps
	default:
		ls, err := local.NewLocalStore(a.Config.Database.DSN)
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.Store = ls
	}
	a.Barrier = a.Store
	return nil
}

func (a *App) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) initRedis() error {
	if !a.Config.Distributed() {
		return nil
	}
	jc, err := store.NewAsynqJobClient(a.redisOpt(), a.Store)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	a.Inspector = asynq.NewInspector(a.redisOpt())

	if a.Config.Pipeline.JoinBarrier == "redis" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Address,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.Barrier = barrier.NewRedisBarrier(a.Redis, "")
	}
	return nil
}

func (a *App) initService() error {
	cfg := a.Config.Pipeline
	reg := pipeline.NewRegistry()

	defs, err := steps.Load(cfg.Definitions)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warnf("Pipeline definitions %s not found, no pipelines registered", cfg.Definitions)
	case err != nil:
		return fmt.Errorf("init pipelines: %w", err)
	default:
		if err := defs.Register(reg, steps.Builtins()); err != nil {
			return fmt.Errorf("init pipelines: %w", err)
		}
		log.Debugf("Registered %d pipelines from %s", len(defs.Pipelines), cfg.Definitions)
	}

	svc := &pipeline.Service{
		Registry:      reg,
		WorkDirs:      &pipeline.TempWorkDirFactory{Root: cfg.WorkDirRoot, Retain: cfg.KeepWorkDirs},
		ToolsDir:      cfg.ToolsDir,
		LogDir:        cfg.LogDir,
		ProgressLines: cfg.ProgressLines,
		LogLevel:      log.GetLevel(),
		ErrorLog:      log.StandardLogger(),
	}
	a.Jobs = jobstore.New(svc, a.Store, a.Barrier)
	svc.Jobs = a.Jobs
	svc.Status = a.Jobs
	a.Service = svc
	return nil
}

func (a *App) initQueues() error {
	if !a.Config.Distributed() {
		a.RunLocally()
		return nil
	}
	for location := range a.Config.Worker.Queues {
		q := queue.NewAsynqQueue(location, a.JobClient, a.Inspector, a.Store)
		a.Queues[location] = q
		a.Jobs.AddQueue(q)
	}
	return nil
}

// RunLocally routes jobs for the worker location to an in-process queue
// instead of asynq. Calling it again returns the same queue.
func (a *App) RunLocally() *queue.LocalQueue {
	if a.LocalQueue != nil {
		return a.LocalQueue
	}
	q := queue.NewLocalQueue(a.Config.Worker.Location, a.Config.Worker.Concurrency, a.Jobs)
	a.LocalQueue = q
	a.Queues[q.Location()] = q
	a.Jobs.AddQueue(q)
	return q
}

// Submit creates a job of the named type and hands it to the queue serving
// its first task.
func (a *App) Submit(ctx context.Context, jobType string, info pipeline.BackgroundInfo, params map[string]string) (*pipeline.Job, error) {
	root := a.Config.Pipeline.Root
	if r, ok := params["root"]; ok && r != "" {
		root = r
	}
	job, err := a.Service.NewJob(jobType, info, root, params)
	if err != nil {
		return nil, err
	}
	q, err := a.Jobs.QueueForJob(job)
	if err != nil {
		return nil, err
	}
	if err := a.Service.Submit(ctx, job, q); err != nil {
		return nil, err
	}
	return job, nil
}

// Close releases every resource the app holds. Queued local jobs are
// cancelled.
func (a *App) Close() {
	if a.LocalQueue != nil {
		a.LocalQueue.Shutdown()
	}
	if a.JobClient != nil {
		if err := a.JobClient.Close(); err != nil {
			log.Printf("Error closing job client: %v", err)
		}
	}
	if a.Inspector != nil {
		a.Inspector.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}
}

// Hostname identifies this process in job background info.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
