package devicesync

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

// Job is one unit of work run on every reconciliation tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks the jobs a Monitor runs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// CloudSyncer reconciles device state with a cloud copy.
type CloudSyncer interface {
	Sync(ctx context.Context) error
}

// NoopCloudSync stands in for a real cloud sync backend. It waits Delay and
// reports success.
type NoopCloudSync struct {
	Delay time.Duration
}

func (n NoopCloudSync) Sync(ctx context.Context) error {
	if n.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(n.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type cloudSyncJob struct {
	syncer CloudSyncer
}

// NewCloudSyncJob runs syncer on every tick.
func NewCloudSyncJob(syncer CloudSyncer) (Job, error) {
	if syncer == nil {
		return nil, fmt.Errorf("cloud syncer required")
	}
	return &cloudSyncJob{syncer: syncer}, nil
}

func (j *cloudSyncJob) Name() string { return "cloud-sync" }

func (j *cloudSyncJob) Run(ctx context.Context) error {
	return j.syncer.Sync(ctx)
}

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type purgeJob struct {
	purger expiredPurger
	logg   *logger.Logger
}

// NewPurgeJob removes expired snapshot rows, such as relay keys left behind by
// instances that exited before their TTL fired.
func NewPurgeJob(purger expiredPurger, logg *logger.Logger) (Job, error) {
	if purger == nil {
		return nil, fmt.Errorf("purger required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &purgeJob{purger: purger, logg: logg}, nil
}

func (j *purgeJob) Name() string { return "snapshot-purge" }

func (j *purgeJob) Run(ctx context.Context) error {
	count, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired snapshots: %w", err)
	}
	if count > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", count), "expired snapshots purged")
	}
	return nil
}

type loader interface {
	Load(ctx context.Context) error
}

type reloadJob struct {
	name   string
	target loader
}

// NewReloadJob refreshes a store from the remote service on every tick.
func NewReloadJob(name string, target loader) (Job, error) {
	if target == nil {
		return nil, fmt.Errorf("%s loader required", name)
	}
	return &reloadJob{name: name, target: target}, nil
}

func (j *reloadJob) Name() string { return j.name }

func (j *reloadJob) Run(ctx context.Context) error {
	return j.target.Load(ctx)
}
