package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"audio-search-go/internal/config"
	"audio-search-go/internal/errreport"
	"audio-search-go/internal/logger"
	"audio-search-go/internal/notify"
	"audio-search-go/internal/pipeline"
	"audio-search-go/internal/processor"
	"audio-search-go/internal/report"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/transcription"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "audio-search-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs := storage.NewLocal(cfg.StorageRoot)

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("could not connect to database")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("could not run migrations")
		}
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	errSink, err := errreport.NewFromEnv(cfg.SentryDSN, log)
	if err != nil {
		log.WithError(err).Fatal("could not initialize error sink")
	}

	client := transcription.NewFromEnv(cfg.TranscribeTimeout)
	notifier := notify.NewFromEnv(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom, log)
	reports := report.NewGenerator(st, blobs, log)
	proc := processor.New(st, blobs, client, errSink, cfg.TranscribeTimeout, log)

	coord := pipeline.New(st, blobs, proc, reports, notifier, cfg.AppURL, cfg.WorkerCount, cfg.QueueSize, log)
	coord.Start(ctx)
	defer coord.Stop()

	api := &apiServer{
		store: st,
		blobs: blobs,
		proc:  proc,
		coord: coord,
		log:   log,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}
