package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jask/coopledger/internal/config"
	"github.com/jask/coopledger/internal/database"
	"github.com/jask/coopledger/internal/events"
	"github.com/jask/coopledger/internal/service"
	"github.com/jask/coopledger/internal/testdata"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatal().Err(err).Msg("mkdir db dir")
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	if err := database.SeedChart(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("seed chart of accounts")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("falling back to UTC")
		loc = time.UTC
	}

	publisher := buildPublisher(cfg)
	if kp, ok := publisher.(*events.KafkaPublisher); ok {
		defer kp.Close()
	}
	engine := service.NewEngine(db, publisher, loc)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "seed-demo":
			if err := testdata.Seed(ctx, engine); err != nil {
				log.Fatal().Err(err).Msg("seed demo data")
			}
			log.Info().Msg("demo data seeded")
			return
		case "reset":
			if err := engine.Maintenance.Reset(ctx); err != nil {
				log.Fatal().Err(err).Msg("reset")
			}
			log.Info().Msg("all business data wiped")
			return
		default:
			log.Fatal().Str("command", os.Args[1]).Msg("unknown command, want seed-demo or reset")
		}
	}

	log.Info().Str("db", cfg.Database.Path).Msg("engine ready")

	if cfg.Scheduler.Enabled {
		scheduler := &service.Scheduler{
			Interval: cfg.Scheduler.Interval,
			Loans:    engine.Loans,
			Deposits: engine.Deposits,
		}
		scheduler.Run(ctx)
		return
	}
	<-ctx.Done()
}

func buildPublisher(cfg config.Config) events.Publisher {
	if len(cfg.Events.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Events.Brokers).Msg("publishing events to kafka")
		return events.NewKafkaPublisher(cfg.Events.Brokers)
	}
	return events.LogPublisher{}
}
