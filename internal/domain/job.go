package domain

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the worker is finished with a job in this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Job is the queued unit of pipeline work derived 1:1 from a Message.
type Job struct {
	ID        int64
	ChannelID string
	MessageTS string
	Status    JobStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClaimedJob is what a worker receives from a successful claim: the job plus
// the message fields the pipeline needs, read in the same transaction.
type ClaimedJob struct {
	ID        int64
	ChannelID string
	MessageTS string
	ThreadTS  string
	Text      string
}

// ReplyThreadTS is the thread a reply for this job belongs in.
func (j ClaimedJob) ReplyThreadTS() string {
	if j.ThreadTS != "" {
		return j.ThreadTS
	}
	return j.MessageTS
}

// JobDetail is the operator view of a job joined with its message.
type JobDetail struct {
	Job
	UserID string
	Text   string
}

type JobListFilter struct {
	Status JobStatus
	Limit  int
}
