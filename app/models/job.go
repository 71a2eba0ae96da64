package models

import "time"

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusDead      = "dead"
)

// Job is one typed unit of background work. Rows are claimed under a lease
// (locked_by/locked_at) and never deleted; terminal rows stay as the audit
// trail and operator surface.
type Job struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Type           string     `gorm:"type:varchar(64);not null;index:ux_jobs_type_idem,unique,priority:1;index:idx_jobs_type_status,priority:1" json:"type"`
	IdempotencyKey *string    `gorm:"type:varchar(191);index:ux_jobs_type_idem,unique,priority:2" json:"idempotency_key,omitempty"`
	PayloadJSON    string     `gorm:"type:longtext;not null" json:"payload_json"`
	Status         string     `gorm:"type:varchar(16);not null;default:'queued';index:idx_jobs_type_status,priority:2;index:idx_jobs_status_run_at,priority:1" json:"status"`
	RunAt          time.Time  `gorm:"type:timestamp;not null;index:idx_jobs_status_run_at,priority:2" json:"run_at"`
	LockedBy       string     `gorm:"type:varchar(128)" json:"locked_by"`
	LockedAt       *time.Time `gorm:"type:timestamp;default:null;index" json:"locked_at,omitempty"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int        `gorm:"not null;default:5" json:"max_attempts"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	CompletedAt    *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether the job will never run again without operator
// intervention.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusDead
}
