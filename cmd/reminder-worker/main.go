package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/config"
	"github.com/hackgods/clinic-reminders/internal/db"
	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/logger"
	"github.com/hackgods/clinic-reminders/internal/metrics"
	"github.com/hackgods/clinic-reminders/internal/notify"
	"github.com/hackgods/clinic-reminders/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":          cfg.Env,
		"interval":     cfg.DispatchInterval,
		"batch_size":   cfg.DispatchBatchSize,
		"max_attempts": cfg.MaxDispatchAttempts,
	}).Info("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.WithError(err).Fatal("postgres connection")
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	events := eventlog.NewPgRecorder(pgPool, log)
	store := reminder.NewPgStore(pgPool)
	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), events, log)

	email := notify.EmailFor(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, log)
	sms := notify.SMSFor(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, log)

	dispatcher := reminder.NewDispatcher(store, email, sms, reminder.Messages{
		ClinicName:  cfg.ClinicName,
		ClinicPhone: cfg.ClinicPhone,
		BaseURL:     cfg.PublicBaseURL,
		Location:    cfg.ClinicLocation,
	}, events, log).
		WithInterval(cfg.DispatchInterval).
		WithBatchSize(cfg.DispatchBatchSize).
		WithMaxAttempts(cfg.MaxDispatchAttempts).
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithChannelTimeout(cfg.ChannelTimeout).
		WithMetrics(m)

	sweeper := reminder.NewSweeper(store, cfg.RetentionDays, log)

	c := cron.New(
		cron.WithLocation(cfg.ClinicLocation),
		cron.WithChain(cron.Recover(cron.PrintfLogger(log))),
	)
	if _, err := c.AddFunc(cfg.RetentionCron, func() {
		ctx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(ctx); err != nil {
			log.WithError(err).Error("retention sweep")
		}
	}); err != nil {
		log.WithError(err).Fatal("invalid RETENTION_CRON")
	}
	if _, err := c.AddFunc(cfg.CompletionCron, func() {
		ctx, cancel := context.WithTimeout(rootCtx, time.Minute)
		defer cancel()
		n, err := appointments.CompleteElapsed(ctx)
		if err != nil {
			log.WithError(err).Error("complete elapsed appointments")
			return
		}
		if n > 0 {
			log.WithField("completed", n).Info("elapsed appointments completed")
		}
	}); err != nil {
		log.WithError(err).Fatal("invalid COMPLETION_CRON")
	}
	c.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener")
		}
	}()

	// Run blocks until the signal context is cancelled.
	dispatcher.Run(rootCtx)
	log.Info("shutdown signal received, stopping reminder-worker")

	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics shutdown")
	}
}
