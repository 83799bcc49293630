package main

import (
	"context"
	"fmt"
	"os"

	"github.com/artemmail/scriptor-sub002/internal/clients/gcp"
	"github.com/artemmail/scriptor-sub002/internal/clients/media"
	"github.com/artemmail/scriptor-sub002/internal/clients/openai"
	"github.com/artemmail/scriptor-sub002/internal/clients/payment"
	"github.com/artemmail/scriptor-sub002/internal/clients/renderer"
	"github.com/artemmail/scriptor-sub002/internal/data/db"
	billingrepos "github.com/artemmail/scriptor-sub002/internal/data/repos/billing"
	jobrepos "github.com/artemmail/scriptor-sub002/internal/data/repos/jobs"
	httpapi "github.com/artemmail/scriptor-sub002/internal/http"
	httpH "github.com/artemmail/scriptor-sub002/internal/http/handlers"
	httpMW "github.com/artemmail/scriptor-sub002/internal/http/middleware"
	"github.com/artemmail/scriptor-sub002/internal/jobs/pipeline"
	"github.com/artemmail/scriptor-sub002/internal/jobs/runtime"
	"github.com/artemmail/scriptor-sub002/internal/jobs/worker"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
	"github.com/artemmail/scriptor-sub002/internal/quota"
	"github.com/artemmail/scriptor-sub002/internal/realtime"
	"github.com/artemmail/scriptor-sub002/internal/realtime/bus"
	"github.com/artemmail/scriptor-sub002/internal/services"
	"github.com/artemmail/scriptor-sub002/internal/settlement"
	"github.com/artemmail/scriptor-sub002/internal/utils"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Observability
	metrics := observability.Init(log)
	metrics.StartServer(ctx, log, utils.GetEnv("METRICS_ADDR", ":9090", log))
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "scriptor",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     os.Getenv("APP_VERSION"),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	thePG := dbService.DB()

	// Repos
	log.Info("Setting up repos...")
	jobRepo := jobrepos.NewJobRepo(thePG, log)
	stepRepo := jobrepos.NewStepRepo(thePG, log)
	segmentRepo := jobrepos.NewSegmentRepo(thePG, log)
	walletRepo := billingrepos.NewWalletRepo(thePG, log)
	pkgRepo := billingrepos.NewPackageRepo(thePG, log)
	usageRepo := billingrepos.NewUsageRepo(thePG, log)
	opsRepo := billingrepos.NewPaymentOperationRepo(thePG, log)

	// Realtime: a redis bus fans events out across instances; without redis
	// the in-process hub serves a single instance.
	hub := realtime.NewSSEHub(log)
	var emitter services.SSEEmitter = &services.HubEmitter{Hub: hub}
	if os.Getenv("REDIS_ADDR") != "" {
		sseBus, busErr := bus.NewRedisBus(log)
		if busErr != nil {
			log.Warn("Redis SSE bus init failed; falling back to local hub", "error", busErr)
		} else {
			if fwErr := sseBus.StartForwarder(ctx, hub.Broadcast); fwErr != nil {
				log.Warn("Redis SSE forwarder failed; falling back to local hub", "error", fwErr)
			} else {
				emitter = &services.RedisEmitter{Bus: sseBus}
				defer sseBus.Close()
			}
		}
	}
	jobNotifier := services.NewJobNotifier(emitter)
	billingNotifier := services.NewBillingNotifier(emitter)

	// Quota and settlement
	gate := quota.NewGate(quota.ConfigFromEnv(log), walletRepo, pkgRepo, usageRepo, log)
	coordinator := settlement.NewCoordinator(thePG, jobRepo, walletRepo, pkgRepo, usageRepo, log)

	// External clients
	log.Info("Setting up clients...")
	extractor, err := media.NewExtractor(log)
	if err != nil {
		log.Error("Could not init media extractor", "error", err)
		os.Exit(1)
	}
	speech, err := gcp.NewSpeech(log)
	if err != nil {
		log.Warn("Could not init speech client; audio_transcription disabled", "error", err)
	}
	transcriber, err := openai.NewTranscriber(log)
	if err != nil {
		log.Warn("Could not init transcriber; openai_transcription disabled", "error", err)
	}
	blobs, err := gcp.NewBucketService(log)
	if err != nil {
		log.Warn("Could not init bucket service; result archiving disabled", "error", err)
	}
	gateway, err := payment.NewGateway(log)
	if err != nil {
		log.Warn("Could not init payment gateway; deposits disabled", "error", err)
	}
	docRenderer, err := renderer.NewRenderer(log)
	if err != nil {
		log.Warn("Could not init document renderer; pdf and docx export disabled", "error", err)
	}

	// Pipelines
	deps := pipeline.Deps{
		Log:       log,
		Extractor: extractor,
		Speech:    speech,
		OpenAI:    transcriber,
		Blobs:     blobs,
	}
	registry := runtime.NewRegistry()
	handlers := []runtime.Handler{pipeline.NewYoutubeCaption(deps)}
	if speech != nil {
		handlers = append(handlers, pipeline.NewAudioTranscription(deps))
	}
	if transcriber != nil {
		handlers = append(handlers, pipeline.NewOpenAITranscription(deps))
	}
	for _, h := range handlers {
		if rErr := registry.Register(h); rErr != nil {
			log.Error("Could not register pipeline", "kind", string(h.Kind()), "error", rErr)
			os.Exit(1)
		}
	}

	// Recover settlements interrupted by a previous crash before accepting
	// new work.
	if n, sErr := coordinator.SweepUnsettled(ctx); sErr != nil {
		log.Warn("Startup settlement sweep failed", "error", sErr)
	} else if n > 0 {
		log.Info("Startup settlement sweep", "settled", n)
	}

	// Worker pool
	w := worker.NewWorker(thePG, log, jobRepo, stepRepo, segmentRepo, registry, jobNotifier, coordinator)
	w.Start(ctx)

	// Services
	jobService := services.NewJobService(thePG, log, jobRepo, stepRepo, segmentRepo, gate, jobNotifier, docRenderer)
	billingService := services.NewBillingService(thePG, log, walletRepo, pkgRepo, usageRepo, opsRepo, gateway, billingNotifier)

	// HTTP
	authMW, err := httpMW.NewAuthMiddleware(log)
	if err != nil {
		log.Error("Could not init auth middleware", "error", err)
		os.Exit(1)
	}
	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		AuthMiddleware:  authMW,
		HealthHandler:   httpH.NewHealthHandler(),
		JobHandler:      httpH.NewJobHandler(jobService),
		BillingHandler:  httpH.NewBillingHandler(billingService),
		WebhookHandler:  httpH.NewWebhookHandler(log, billingService, gateway),
		RealtimeHandler: httpH.NewRealtimeHandler(hub),
	})

	addr := ":" + utils.GetEnv("PORT", "8080", log)
	log.Info("Starting HTTP server", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("HTTP server stopped", "error", err)
		os.Exit(1)
	}
}
