package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/quality"
	"github.com/iago/technoshare-commentator/internal/render"
	"github.com/iago/technoshare-commentator/internal/retrieval"
)

const finishTimeout = 10 * time.Second

// JobFinisher writes a job's terminal state.
type JobFinisher interface {
	MarkJobDone(ctx context.Context, jobID int64) error
	MarkJobFailed(ctx context.Context, jobID int64, reason string) error
}

type AdapterSelector interface {
	Select(rawURL string) retrieval.EvidenceAdapter
}

type Analyzer interface {
	Analyze(ctx context.Context, evidence domain.EvidencePack) (domain.AnalysisResult, error)
}

type Poster interface {
	PostReply(ctx context.Context, channel, threadTS, text string) error
}

type Dependencies struct {
	Jobs     JobFinisher
	Adapters AdapterSelector
	Analyzer Analyzer
	Gates    *quality.Gates
	Poster   Poster
	Themes   []config.Theme
	MaxLinks int
	Logger   *logger.Logger
}

// Pipeline runs the URL to reply stages for one claimed job and records the
// job's terminal state.
type Pipeline struct {
	jobs     JobFinisher
	adapters AdapterSelector
	analyzer Analyzer
	gates    *quality.Gates
	poster   Poster
	themes   []config.Theme
	maxLinks int
	logger   *logger.Logger
}

func New(deps Dependencies) *Pipeline {
	if deps.Gates == nil {
		deps.Gates = quality.NewGates(1)
	}
	if deps.MaxLinks <= 0 {
		deps.MaxLinks = retrieval.DefaultMaxLinks
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Pipeline{
		jobs:     deps.Jobs,
		adapters: deps.Adapters,
		analyzer: deps.Analyzer,
		gates:    deps.Gates,
		poster:   deps.Poster,
		themes:   deps.Themes,
		maxLinks: deps.MaxLinks,
		logger:   deps.Logger,
	}
}

// Process runs every stage and persists done or failed. The returned error is
// non-nil only when the terminal state could not be written.
func (p *Pipeline) Process(ctx context.Context, job domain.ClaimedJob) (Result, error) {
	log := p.logger.With("job_id", job.ID, "channel_id", job.ChannelID, "message_ts", job.MessageTS)
	result := p.run(ctx, job, log)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if result.Status == domain.JobStatusDone {
		if err := p.jobs.MarkJobDone(finishCtx, job.ID); err != nil {
			return result, fmt.Errorf("mark job %d done: %w", job.ID, err)
		}
		log.Info("job done", "target_url", result.TargetURL, "coverage", string(result.Coverage), "posted", result.Posted)
		return result, nil
	}

	if err := p.jobs.MarkJobFailed(finishCtx, job.ID, result.Reason); err != nil {
		return result, fmt.Errorf("mark job %d failed: %w", job.ID, err)
	}
	log.Warn("job failed", "target_url", result.TargetURL, "reason", result.Reason)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, job domain.ClaimedJob, log *logger.Logger) Result {
	result := Result{JobID: job.ID, Status: domain.JobStatusDone}

	urls := retrieval.ExtractURLs(job.Text, p.maxLinks)
	if len(urls) == 0 {
		result.record(StageExtract, StageOK, "no urls")
		log.Info("no urls in message")
		return result
	}
	result.TargetURL = urls[0]
	result.record(StageExtract, StageOK, fmt.Sprintf("%d urls", len(urls)))

	adapter := p.adapters.Select(result.TargetURL)
	evidence := adapter.FetchEvidence(ctx, result.TargetURL)
	result.Adapter = adapter.Name()
	result.Coverage = evidence.Coverage
	if evidence.Coverage == domain.CoverageFailed {
		result.record(StageRetrieve, StageDegraded, strings.Join(evidence.Errors, "; "))
		log.Warn("evidence retrieval failed, analyzing anyway", "adapter", adapter.Name(), "errors", evidence.Errors)
	} else {
		result.record(StageRetrieve, StageOK, fmt.Sprintf("%s coverage=%s snippets=%d", adapter.Name(), evidence.Coverage, len(evidence.Snippets)))
	}

	analysis, err := p.analyzer.Analyze(ctx, evidence)
	if err != nil {
		result.fail(StageAnalyze, "analysis: "+err.Error())
		return result
	}
	result.record(StageAnalyze, StageOK, "")

	if report := p.gates.Run(analysis, p.themes); !report.Passed() {
		result.fail(StageGates, report.Err().Error())
		return result
	}
	result.record(StageGates, StageOK, "")

	text := render.AnalysisToMrkdwn(analysis)
	if err := p.poster.PostReply(ctx, job.ChannelID, job.ReplyThreadTS(), text); err != nil {
		result.fail(StagePost, "post reply: "+err.Error())
		return result
	}
	result.Posted = true
	result.record(StagePost, StageOK, "")
	return result
}
