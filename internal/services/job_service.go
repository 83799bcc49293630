package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/clients/renderer"
	repos "github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	"github.com/artemmail/scriptor-sub002/internal/docgen"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/quota"
)

// JobStatus is the job projection returned to clients: the job row plus its
// pipeline steps in execution order.
type JobStatus struct {
	Job   *types.Job       `json:"job"`
	Steps []*types.JobStep `json:"steps"`
}

// RenderedDocument is a finished job's transcript rendered into one of the
// export formats, ready to be written as a download response.
type RenderedDocument struct {
	Data        []byte
	ContentType string
	Filename    string
}

type JobService interface {
	// Start admits and creates a job. The returned bool reports whether a new
	// job was created; a reused job carries no fresh funding decision. A
	// denied admission returns the decision alongside apperr.ErrQuotaExhausted.
	Start(dbc dbctx.Context, userID uuid.UUID, kind types.JobKind, sourceRef string, amount int) (*types.Job, *types.FundingDecision, bool, error)
	GetStatus(dbc dbctx.Context, jobID, userID uuid.UUID) (*JobStatus, error)
	List(dbc dbctx.Context, userID uuid.UUID, f repos.ListFilter) ([]*types.Job, int64, error)
	Cancel(dbc dbctx.Context, jobID, userID uuid.UUID) (*types.Job, error)
	// Render exports a finished job's transcript in the requested format.
	// Text formats are assembled in-process; pdf and docx go through the
	// external document renderer.
	Render(dbc dbctx.Context, jobID, userID uuid.UUID, format string) (*RenderedDocument, error)
}

type jobService struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.JobRepo
	steps    repos.StepRepo
	segments repos.SegmentRepo
	gate     *quota.Gate
	notify   JobNotifier
	renderer renderer.Renderer
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, jobRepo repos.JobRepo, stepRepo repos.StepRepo, segmentRepo repos.SegmentRepo, gate *quota.Gate, notify JobNotifier, rend renderer.Renderer) JobService {
	return &jobService{
		db:       db,
		log:      baseLog.With("service", "JobService"),
		jobs:     jobRepo,
		steps:    stepRepo,
		segments: segmentRepo,
		gate:     gate,
		notify:   notify,
		renderer: rend,
	}
}

func knownKind(kind types.JobKind) bool {
	for _, k := range types.KnownJobKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *jobService) Start(dbc dbctx.Context, userID uuid.UUID, kind types.JobKind, sourceRef string, amount int) (*types.Job, *types.FundingDecision, bool, error) {
	if userID == uuid.Nil {
		return nil, nil, false, fmt.Errorf("missing user id: %w", apperr.ErrInvalidArgument)
	}
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, nil, false, fmt.Errorf("missing source_ref: %w", apperr.ErrInvalidArgument)
	}
	if !knownKind(kind) {
		return nil, nil, false, fmt.Errorf("unknown job kind %q: %w", kind, apperr.ErrInvalidArgument)
	}
	if amount <= 0 {
		amount = 1
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	// Repeated submission of the same source returns the existing job instead
	// of charging the user twice.
	existing, err := s.jobs.FindReusableBySource(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, userID, kind, sourceRef)
	if err != nil {
		return nil, nil, false, err
	}
	if existing != nil {
		return existing, nil, false, nil
	}

	var (
		created  *types.Job
		decision *types.FundingDecision
	)
	jobID := uuid.New()

	err = transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		d, aErr := s.gate.Authorize(inner, jobID, userID, kind, amount)
		if aErr != nil {
			return fmt.Errorf("authorize: %w", aErr)
		}
		decision = d
		if !d.Allowed {
			return apperr.ErrQuotaExhausted
		}

		job := &types.Job{
			ID:               jobID,
			OwnerUserID:      userID,
			Kind:             kind,
			SourceRef:        sourceRef,
			Status:           types.JobStatusCreated,
			FundingSource:    d.Source,
			FundingPackageID: d.PackageID,
			ReservedMinutes:  d.ReservedMinutes,
			ReservedVideos:   d.ReservedVideos,
			ReservedCents:    d.ReservedCents,
		}
		c, cErr := s.jobs.Create(inner, job)
		if cErr != nil {
			return fmt.Errorf("create job: %w", cErr)
		}
		created = c
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrQuotaExhausted) {
			observability.Current().JobDenied()
		}
		// A lost same-source race means a concurrent request created the job;
		// our reservation rolled back, so hand back the winner's row.
		if errors.Is(err, apperr.ErrConflict) {
			winner, fErr := s.jobs.FindReusableBySource(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, userID, kind, sourceRef)
			if fErr == nil && winner != nil {
				return winner, nil, false, nil
			}
		}
		// Denial is not a failure of the service; the decision explains it.
		return nil, decision, false, err
	}
	observability.Current().JobAdmitted(string(kind), string(decision.Source))

	s.log.Info("job admitted",
		"job_id", created.ID.String(),
		"user_id", userID.String(),
		"kind", string(kind),
		"funding_source", string(decision.Source))
	s.notify.JobCreated(userID, created)
	return created, decision, true, nil
}

func (s *jobService) GetStatus(dbc dbctx.Context, jobID, userID uuid.UUID) (*JobStatus, error) {
	if jobID == uuid.Nil || userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	job, err := s.jobs.GetByIDForUser(dbc, jobID, userID)
	if err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByJob(dbc, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Job: job, Steps: steps}, nil
}

func (s *jobService) List(dbc dbctx.Context, userID uuid.UUID, f repos.ListFilter) ([]*types.Job, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, apperr.ErrInvalidArgument
	}
	f.OwnerUserID = userID
	return s.jobs.List(dbc, f)
}

// Cancel flips the cancellation flag; the engine honors it at the next
// segment boundary, so the job stays running until then.
func (s *jobService) Cancel(dbc dbctx.Context, jobID, userID uuid.UUID) (*types.Job, error) {
	if jobID == uuid.Nil || userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	ok, err := s.jobs.RequestCancel(dbc, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		job, gErr := s.jobs.GetByIDForUser(dbc, jobID, userID)
		if gErr != nil {
			return nil, gErr
		}
		return job, apperr.ErrConflict
	}
	observability.Current().JobCanceled()
	return s.jobs.GetByIDForUser(dbc, jobID, userID)
}

func (s *jobService) Render(dbc dbctx.Context, jobID, userID uuid.UUID, format string) (*RenderedDocument, error) {
	if jobID == uuid.Nil || userID == uuid.Nil {
		return nil, apperr.ErrInvalidArgument
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = string(docgen.FormatText)
	}

	job, err := s.jobs.GetByIDForUser(dbc, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusDone {
		return nil, fmt.Errorf("job %s is %s, not done: %w", job.ID, job.Status, apperr.ErrConflict)
	}

	segs, err := s.segments.ListByJob(dbc, job.ID)
	if err != nil {
		return nil, err
	}
	fragments := make([]docgen.Fragment, 0, len(segs))
	for _, seg := range segs {
		if !seg.Processed || seg.Fragment == "" {
			continue
		}
		f, dErr := docgen.DecodeFragment(seg.Index, seg.Fragment)
		if dErr != nil {
			return nil, fmt.Errorf("segment %d: decode fragment: %w", seg.Index, dErr)
		}
		fragments = append(fragments, f)
	}

	switch format {
	case string(docgen.FormatText), string(docgen.FormatMarkdown), string(docgen.FormatSRT), string(docgen.FormatBBCode):
		content, rErr := docgen.Render(fragments, docgen.Format(format))
		if rErr != nil {
			return nil, rErr
		}
		ct, ext := textFormatMeta(docgen.Format(format))
		return &RenderedDocument{
			Data:        []byte(content),
			ContentType: ct,
			Filename:    fmt.Sprintf("%s.%s", job.ID, ext),
		}, nil
	case "pdf", "docx":
		if s.renderer == nil {
			return nil, fmt.Errorf("document renderer is not configured")
		}
		markdown, rErr := docgen.Render(fragments, docgen.FormatMarkdown)
		if rErr != nil {
			return nil, rErr
		}
		ctx := dbc.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		data, ct, rErr := s.renderer.Render(ctx, markdown, format)
		if rErr != nil {
			return nil, fmt.Errorf("render %s: %w", format, rErr)
		}
		return &RenderedDocument{
			Data:        data,
			ContentType: ct,
			Filename:    fmt.Sprintf("%s.%s", job.ID, format),
		}, nil
	default:
		return nil, fmt.Errorf("unknown render format %q: %w", format, apperr.ErrInvalidArgument)
	}
}

func textFormatMeta(format docgen.Format) (contentType, ext string) {
	switch format {
	case docgen.FormatMarkdown:
		return "text/markdown; charset=utf-8", "md"
	case docgen.FormatSRT:
		return "application/x-subrip", "srt"
	default:
		return "text/plain; charset=utf-8", "txt"
	}
}
