package interfaces

import "time"

// JobStatus represents the current status of a scheduled sync job
type JobStatus struct {
	Name      string
	Enabled   bool
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastError string
}

// SchedulerService manages cron-based sync scheduling
type SchedulerService interface {
	// Start the scheduler
	Start() error

	// Stop the scheduler
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// RegisterJob registers a recurring job with the scheduler
	RegisterJob(name string, schedule string, handler func() error) error

	// TriggerJob manually triggers a registered job
	TriggerJob(name string) error

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
