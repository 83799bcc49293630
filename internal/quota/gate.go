// Package quota decides whether a job may start and which funding source
// pays for it: the free daily allowance, a subscription package, or the
// wallet. Authorization reserves the chosen quota in the caller's
// transaction so admission and job creation commit or roll back together.
package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/dbctx"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/utils"
)

type Config struct {
	FreeDailyMinutes int
	FreeDailyVideos  int
	CentsPerMinute   int64
	CentsPerVideo    int64
	TopUpURL         string
}

func ConfigFromEnv(log *logger.Logger) Config {
	cfg := Config{
		FreeDailyMinutes: utils.GetEnvAsInt("QUOTA_FREE_DAILY_MINUTES", 10, log),
		FreeDailyVideos:  utils.GetEnvAsInt("QUOTA_FREE_DAILY_VIDEOS", 1, log),
		CentsPerMinute:   utils.GetEnvAsInt64("QUOTA_CENTS_PER_MINUTE", 10, log),
		CentsPerVideo:    utils.GetEnvAsInt64("QUOTA_CENTS_PER_VIDEO", 50, log),
		TopUpURL:         utils.GetEnv("QUOTA_TOPUP_URL", "/billing/topup", log),
	}
	// Wallet rates must stay positive; a zero or negative value falls back to
	// the default rather than pricing every job at nothing.
	if cfg.CentsPerMinute <= 0 {
		log.Warn("QUOTA_CENTS_PER_MINUTE must be positive, using default", "value", cfg.CentsPerMinute)
		cfg.CentsPerMinute = 10
	}
	if cfg.CentsPerVideo <= 0 {
		log.Warn("QUOTA_CENTS_PER_VIDEO must be positive, using default", "value", cfg.CentsPerVideo)
		cfg.CentsPerVideo = 50
	}
	return cfg
}

type Gate struct {
	cfg     Config
	wallets billing.WalletRepo
	pkgs    billing.PackageRepo
	usage   billing.UsageRepo
	log     *logger.Logger
	now     func() time.Time
}

func NewGate(cfg Config, wallets billing.WalletRepo, pkgs billing.PackageRepo, usage billing.UsageRepo, baseLog *logger.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		wallets: wallets,
		pkgs:    pkgs,
		usage:   usage,
		log:     baseLog.With("component", "QuotaGate"),
		now:     time.Now,
	}
}

// Authorize reserves quota for jobID in decision order: free daily allowance,
// then the soonest-expiring package with headroom, then the wallet at the
// configured rate. A denied decision reserves nothing. jobID must be the id
// the caller will create the job under, so a wallet debit in this transaction
// already references it.
func (g *Gate) Authorize(dbc dbctx.Context, jobID, userID uuid.UUID, kind types.JobKind, amount int) (*types.FundingDecision, error) {
	if amount <= 0 {
		amount = 1
	}

	needMinutes, needVideos := 0, 0
	if kind.ConsumesVideos() {
		needVideos = amount
	} else {
		needMinutes = amount
	}
	now := g.now()
	day := types.UsageDay(now)

	if _, err := g.usage.GetOrCreate(dbc, userID, day); err != nil {
		return nil, fmt.Errorf("load usage record: %w", err)
	}

	if needMinutes > 0 {
		ok, err := g.usage.AddMinutes(dbc, userID, day, needMinutes, g.cfg.FreeDailyMinutes)
		if err != nil {
			return nil, fmt.Errorf("reserve free minutes: %w", err)
		}
		if ok {
			return g.allowedFree(dbc, userID, day, needMinutes, needVideos)
		}
	} else {
		ok, err := g.usage.AddVideos(dbc, userID, day, needVideos, g.cfg.FreeDailyVideos)
		if err != nil {
			return nil, fmt.Errorf("reserve free videos: %w", err)
		}
		if ok {
			return g.allowedFree(dbc, userID, day, needMinutes, needVideos)
		}
	}

	pkgs, err := g.pkgs.ActiveForUser(dbc, userID, now)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	for _, pkg := range pkgs {
		var ok bool
		if needMinutes > 0 {
			ok, err = g.pkgs.ReserveMinutes(dbc, pkg.ID, needMinutes)
		} else {
			ok, err = g.pkgs.ReserveVideos(dbc, pkg.ID, needVideos)
		}
		if err != nil {
			return nil, fmt.Errorf("reserve package %s: %w", pkg.ID, err)
		}
		if !ok {
			continue
		}
		remaining := int64(pkg.RemainingMinutes - needMinutes)
		if needVideos > 0 {
			remaining = int64(pkg.RemainingVideos - needVideos)
		}
		pkgID := pkg.ID
		return &types.FundingDecision{
			Allowed:         true,
			Source:          types.FundingPackage,
			PackageID:       &pkgID,
			ReservedMinutes: needMinutes,
			ReservedVideos:  needVideos,
			RemainingQuota:  remaining,
		}, nil
	}

	cost := int64(needMinutes)*g.cfg.CentsPerMinute + int64(needVideos)*g.cfg.CentsPerVideo
	wallet, err := g.wallets.GetOrCreate(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	debited, err := g.wallets.Debit(dbc, userID, cost, &jobID, "job admission")
	if err != nil {
		return nil, fmt.Errorf("debit wallet: %w", err)
	}
	if debited {
		rate := g.cfg.CentsPerMinute
		if needVideos > 0 {
			rate = g.cfg.CentsPerVideo
		}
		return &types.FundingDecision{
			Allowed:         true,
			Source:          types.FundingWallet,
			ReservedMinutes: needMinutes,
			ReservedVideos:  needVideos,
			ReservedCents:   cost,
			RemainingQuota:  (wallet.BalanceCents - cost) / rate,
		}, nil
	}

	g.log.Info("authorization denied",
		"user_id", userID.String(),
		"kind", string(kind),
		"amount", amount,
		"cost_cents", cost,
		"balance_cents", wallet.BalanceCents)
	return &types.FundingDecision{
		Allowed:        false,
		RemainingQuota: wallet.BalanceCents,
		Message:        fmt.Sprintf("insufficient quota: %d cents required, %d available", cost, wallet.BalanceCents),
		PaymentURL:     g.cfg.TopUpURL,
	}, nil
}

func (g *Gate) allowedFree(dbc dbctx.Context, userID uuid.UUID, day string, minutes, videos int) (*types.FundingDecision, error) {
	rec, err := g.usage.Get(dbc, userID, day)
	if err != nil {
		return nil, err
	}
	remaining := int64(0)
	if rec != nil {
		if minutes > 0 {
			remaining = int64(g.cfg.FreeDailyMinutes - rec.MinutesUsed)
		} else {
			remaining = int64(g.cfg.FreeDailyVideos - rec.VideosUsed)
		}
	}
	return &types.FundingDecision{
		Allowed:         true,
		Source:          types.FundingFree,
		ReservedMinutes: minutes,
		ReservedVideos:  videos,
		RemainingQuota:  remaining,
	}, nil
}
