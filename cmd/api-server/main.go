package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-reminders/internal/api"
	"github.com/hackgods/clinic-reminders/internal/appointment"
	"github.com/hackgods/clinic-reminders/internal/availability"
	"github.com/hackgods/clinic-reminders/internal/booking"
	"github.com/hackgods/clinic-reminders/internal/config"
	"github.com/hackgods/clinic-reminders/internal/db"
	"github.com/hackgods/clinic-reminders/internal/eventlog"
	"github.com/hackgods/clinic-reminders/internal/lock"
	"github.com/hackgods/clinic-reminders/internal/logger"
	"github.com/hackgods/clinic-reminders/internal/metrics"
	"github.com/hackgods/clinic-reminders/internal/notify"
	redisclient "github.com/hackgods/clinic-reminders/internal/redis"
	"github.com/hackgods/clinic-reminders/internal/reminder"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	log.WithFields(logrus.Fields{"env": cfg.Env, "http_port": cfg.HTTPPort, "lock_backend": cfg.LockBackend}).
		Info("api-server starting up")

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

	var (
		locker lock.Locker
		rdb    *goredis.Client
		redisP api.Pinger
	)
	if cfg.UsesRedis() {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.WithError(err).Fatal("redis connection")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.WithError(err).Warn("close redis")
			}
		}()
		locker = redisclient.NewAvailabilityLocker(rdb, filepath.Base(cfg.AvailabilityFile), cfg.LockTTL, cfg.LockTimeout, cfg.LockRetryDelay)
		redisP = api.RedisPinger{Client: rdb}
		log.Info("connected to Redis")
	} else {
		locker = lock.NewFileLocker(cfg.AvailabilityFile, cfg.LockTimeout, cfg.LockRetryDelay)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := availability.NewEngine(availability.NewStore(cfg.AvailabilityFile, cfg.ClinicLocation), locker, log)
	events := eventlog.NewPgRecorder(pgPool, log)
	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), events, log)
	reminders := reminder.NewPgStore(pgPool)
	scheduler := reminder.NewScheduler(reminders, events, log).WithCountryCode(cfg.DefaultCountryCode)

	bookings := booking.NewService(engine, appointments, scheduler, log).WithMetrics(m)
	email := notify.EmailFor(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, log)
	sms := notify.SMSFor(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, log)
	messages := reminder.Messages{
		ClinicName:  cfg.ClinicName,
		ClinicPhone: cfg.ClinicPhone,
		BaseURL:     cfg.PublicBaseURL,
		Location:    cfg.ClinicLocation,
	}
	recorder := reminder.NewRecorder(reminders, bookings.ReplyActions(), email, sms, messages, events, log).
		WithCountryCode(cfg.DefaultCountryCode).
		WithMetrics(m)

	router := api.NewRouter(api.RouterConfig{
		Bookings:       bookings,
		Slots:          engine,
		Responses:      recorder,
		Reminders:      reminders,
		Events:         events,
		Postgres:       pgPool,
		Redis:          redisP,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Location:       cfg.ClinicLocation,
		Log:            log,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}
