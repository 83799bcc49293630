package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobKind string

const (
	JobKindYoutubeCaption      JobKind = "youtube_caption"
	JobKindAudioTranscription  JobKind = "audio_transcription"
	JobKindOpenAITranscription JobKind = "openai_transcription"
)

// KnownJobKinds lists every kind the engine has a pipeline for.
var KnownJobKinds = []JobKind{
	JobKindYoutubeCaption,
	JobKindAudioTranscription,
	JobKindOpenAITranscription,
}

type JobStatus string

const (
	JobStatusCreated JobStatus = "created"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether s permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job is one user-initiated transcription/captioning request tracked
// end-to-end. Funding fields record the admission-time reservation so
// settlement can finalize or refund it later, keyed by the job id.
type Job struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Kind        JobKind   `gorm:"column:kind;not null;index" json:"kind"`
	SourceRef   string    `gorm:"column:source_ref;not null;index" json:"source_ref"`
	Status      JobStatus `gorm:"column:status;not null;index" json:"status"`

	Result string `gorm:"column:result;type:text" json:"result,omitempty"`
	Error  string `gorm:"column:error" json:"error,omitempty"`

	SegmentsDone  int `gorm:"column:segments_done;not null;default:0" json:"segments_done"`
	SegmentsTotal int `gorm:"column:segments_total;not null;default:0" json:"segments_total"`

	FundingSource    FundingSource `gorm:"column:funding_source" json:"funding_source,omitempty"`
	FundingPackageID *uuid.UUID    `gorm:"type:uuid;column:funding_package_id" json:"funding_package_id,omitempty"`
	ReservedMinutes  int           `gorm:"column:reserved_minutes;not null;default:0" json:"reserved_minutes"`
	ReservedVideos   int           `gorm:"column:reserved_videos;not null;default:0" json:"reserved_videos"`
	ReservedCents    int64         `gorm:"column:reserved_cents;not null;default:0" json:"reserved_cents"`
	SettledAt        *time.Time    `gorm:"column:settled_at;index" json:"settled_at,omitempty"`

	CancelRequested bool `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`

	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	Meta datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "job" }

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// JobStep is an ordered phase of a job's kind-specific pipeline. Steps
// execute in Index order; a step may not start while an earlier one has not
// succeeded.
type JobStep struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind       string     `gorm:"column:kind;not null" json:"kind"`
	Index      int        `gorm:"column:idx;not null" json:"index"`
	Status     StepStatus `gorm:"column:status;not null;index" json:"status"`
	Error      string     `gorm:"column:error" json:"error,omitempty"`
	StartedAt  *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (JobStep) TableName() string { return "job_step" }

// JobSegment is the smallest checkpointable unit of recognition work.
// Segments are processed in Index order; resume skips processed rows.
type JobSegment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	StepID    uuid.UUID `gorm:"type:uuid;not null;index" json:"step_id"`
	Index     int       `gorm:"column:idx;not null" json:"index"`
	Processed bool      `gorm:"column:processed;not null;default:false" json:"processed"`
	Fragment  string    `gorm:"column:fragment;type:text" json:"fragment,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (JobSegment) TableName() string { return "job_segment" }
