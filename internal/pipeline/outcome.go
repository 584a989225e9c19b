package pipeline

import "github.com/iago/technoshare-commentator/internal/domain"

type Stage string

const (
	StageExtract  Stage = "extract_urls"
	StageRetrieve Stage = "retrieve_evidence"
	StageAnalyze  Stage = "analyze"
	StageGates    Stage = "quality_gates"
	StagePost     Stage = "post_reply"
)

type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
)

// StageOutcome records how one stage ended. Only StageFailed stops the run.
type StageOutcome struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Result is the terminal state of one pipeline run.
type Result struct {
	JobID     int64            `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	TargetURL string           `json:"target_url,omitempty"`
	Adapter   string           `json:"adapter,omitempty"`
	Coverage  domain.Coverage  `json:"coverage,omitempty"`
	Posted    bool             `json:"posted"`
	Stages    []StageOutcome   `json:"stages"`
}

func (r *Result) record(stage Stage, status StageStatus, detail string) {
	r.Stages = append(r.Stages, StageOutcome{Stage: stage, Status: status, Detail: detail})
}

func (r *Result) fail(stage Stage, reason string) {
	r.record(stage, StageFailed, reason)
	r.Status = domain.JobStatusFailed
	r.Reason = reason
}

// Outcome returns the recorded outcome of a stage, if it ran.
func (r Result) Outcome(stage Stage) (StageOutcome, bool) {
	for _, outcome := range r.Stages {
		if outcome.Stage == stage {
			return outcome, true
		}
	}
	return StageOutcome{}, false
}
