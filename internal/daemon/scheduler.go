package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
)

// Scheduler wraps gocron scheduler for managing periodic tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create gocron scheduler").Build()
	}

	return &Scheduler{
		scheduler: s,
	}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for running jobs.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs task every interval. A running task is never overlapped;
// a tick that fires while it runs is skipped. With immediate the first run
// starts right away instead of after one interval.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, immediate bool, task func()) (string, error) {
	if interval <= 0 {
		return "", errors.ValidationError("schedule interval must be positive").
			WithContext("name", name).
			WithContext("interval", interval.String()).
			Build()
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		jobOptions(name, immediate)...,
	)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryDaemon, "failed to create periodic job").
			WithContext("name", name).
			Build()
	}
	slog.Info("Scheduled periodic job", slog.String("job", name), logfields.ScheduleID(job.ID().String()), slog.Duration("interval", interval))
	return job.ID().String(), nil
}

// Reschedule changes the interval of an existing job. The next run happens one
// interval from now.
func (s *Scheduler) Reschedule(id, name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return errors.ValidationError("schedule interval must be positive").
			WithContext("name", name).
			WithContext("interval", interval.String()).
			Build()
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid job id").WithContext("id", id).Build()
	}
	if _, err := s.scheduler.Update(jobID, gocron.DurationJob(interval), gocron.NewTask(task), jobOptions(name, false)...); err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to reschedule job").
			WithContext("name", name).
			Build()
	}
	slog.Info("Rescheduled periodic job", slog.String("job", name), logfields.ScheduleID(id), slog.Duration("interval", interval))
	return nil
}

// NextRun returns when the job runs next.
func (s *Scheduler) NextRun(id string) (time.Time, error) {
	for _, j := range s.scheduler.Jobs() {
		if j.ID().String() == id {
			return j.NextRun()
		}
	}
	return time.Time{}, errors.NotFoundError(fmt.Sprintf("job %s not scheduled", id)).Build()
}

func jobOptions(name string, immediate bool) []gocron.JobOption {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	return opts
}
