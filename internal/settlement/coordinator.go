// Package settlement finalizes the quota reservation a job was admitted
// under once the job reaches a terminal state. Done keeps the reservation;
// Error compensates it: wallet refund, package restore, or free-usage
// release. Settlement is keyed by the job id and runs at most once per job.
package settlement

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	"github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type Coordinator struct {
	db      *gorm.DB
	jobs    jobs.JobRepo
	wallets billing.WalletRepo
	pkgs    billing.PackageRepo
	usage   billing.UsageRepo
	log     *logger.Logger
}

func NewCoordinator(db *gorm.DB, jobRepo jobs.JobRepo, wallets billing.WalletRepo, pkgs billing.PackageRepo, usage billing.UsageRepo, baseLog *logger.Logger) *Coordinator {
	return &Coordinator{
		db:      db,
		jobs:    jobRepo,
		wallets: wallets,
		pkgs:    pkgs,
		usage:   usage,
		log:     baseLog.With("component", "SettlementCoordinator"),
	}
}

// Settle finalizes or compensates the reservation for a terminal job. The
// settled_at compare-and-swap makes repeated calls no-ops, so the worker,
// the startup sweep and a crash-retry can all call this safely.
func (c *Coordinator) Settle(ctx context.Context, jobID uuid.UUID) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		job, err := c.jobs.GetByID(dbc, jobID)
		if err != nil {
			return err
		}
		if !job.Status.Terminal() {
			return fmt.Errorf("job %s is %s: %w", jobID, job.Status, apperr.ErrConflict)
		}

		won, err := c.jobs.MarkSettled(dbc, jobID)
		if err != nil {
			return err
		}
		if !won {
			c.log.Debug("job already settled", "job_id", jobID.String())
			observability.Current().SettlementOutcome("noop")
			return nil
		}

		if job.Status == types.JobStatusDone {
			// The reservation made at admission stands as the final charge.
			c.log.Info("settlement finalized",
				"job_id", jobID.String(),
				"funding_source", string(job.FundingSource))
			observability.Current().SettlementOutcome("finalized")
			return nil
		}

		if err := c.compensate(dbc, job); err != nil {
			return err
		}
		c.log.Info("settlement refunded",
			"job_id", jobID.String(),
			"funding_source", string(job.FundingSource),
			"reserved_minutes", job.ReservedMinutes,
			"reserved_videos", job.ReservedVideos,
			"reserved_cents", job.ReservedCents)
		observability.Current().SettlementOutcome("compensated")
		return nil
	})
}

func (c *Coordinator) compensate(dbc dbctx.Context, job *types.Job) error {
	switch job.FundingSource {
	case types.FundingWallet:
		if job.ReservedCents <= 0 {
			return nil
		}
		refunded, err := c.wallets.HasTransactionForJob(dbc, job.ID, types.WalletTxRefund)
		if err != nil {
			return err
		}
		if refunded {
			return nil
		}
		return c.wallets.Credit(dbc, job.OwnerUserID, job.ReservedCents, types.WalletTxRefund, &job.ID, "job refund")

	case types.FundingPackage:
		if job.FundingPackageID == nil {
			return fmt.Errorf("package-funded job %s has no package id", job.ID)
		}
		if job.ReservedMinutes > 0 {
			if err := c.pkgs.RestoreMinutes(dbc, *job.FundingPackageID, job.ReservedMinutes); err != nil {
				return err
			}
		}
		if job.ReservedVideos > 0 {
			if err := c.pkgs.RestoreVideos(dbc, *job.FundingPackageID, job.ReservedVideos); err != nil {
				return err
			}
		}
		return nil

	case types.FundingFree:
		day := types.UsageDay(job.CreatedAt)
		if job.ReservedMinutes > 0 {
			if err := c.usage.ReleaseMinutes(dbc, job.OwnerUserID, day, job.ReservedMinutes); err != nil {
				return err
			}
		}
		if job.ReservedVideos > 0 {
			if err := c.usage.ReleaseVideos(dbc, job.OwnerUserID, day, job.ReservedVideos); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// SweepUnsettled settles terminal jobs whose settlement was interrupted,
// typically by a crash between the status update and the settlement
// transaction. Called once at startup.
func (c *Coordinator) SweepUnsettled(ctx context.Context) (int, error) {
	pending, err := c.jobs.FindUnsettledTerminal(dbctx.Context{Ctx: ctx}, 500)
	if err != nil {
		return 0, err
	}

	// Each settlement is its own transaction guarded by the settled_at CAS,
	// so a bounded group can work the backlog in parallel.
	var settled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, job := range pending {
		job := job
		g.Go(func() error {
			if err := c.Settle(gctx, job.ID); err != nil {
				c.log.Error("sweep settlement failed", "job_id", job.ID.String(), "error", err)
				return nil
			}
			settled.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(settled.Load())
	if n > 0 {
		c.log.Info("settlement sweep complete", "settled", n)
	}
	return n, nil
}
