package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/platform/sink/catalog"
	"go.sockspy.io/sockspy/pkg/platform/sink/logsink"
	"go.sockspy.io/sockspy/pkg/platform/sink/postgres"
	"go.sockspy.io/sockspy/pkg/platform/sink/sqlite"
	"go.sockspy.io/sockspy/pkg/service/decipher"
	"go.sockspy.io/sockspy/pkg/service/ingest"
	"go.sockspy.io/sockspy/pkg/service/record"
	"go.sockspy.io/sockspy/pkg/service/replay"
	"go.sockspy.io/sockspy/pkg/service/series"
	"go.sockspy.io/sockspy/utils/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type ServiceProvider struct {
	logger *zap.Logger
	cfg    *config.Config
}

func NewServiceProvider(logger *zap.Logger, cfg *config.Config) *ServiceProvider {
	return &ServiceProvider{
		logger: logger,
		cfg:    cfg,
	}
}

func (n *ServiceProvider) GetService(_ context.Context, cmd string) (interface{}, error) {
	cfg := n.cfg
	switch cmd {
	case "record":
		return record.New(log.ForModule(n.logger, log.ModuleRecord, cfg.DebugModules), cfg), nil
	case "replay":
		return replay.New(log.ForModule(n.logger, log.ModuleReplay, cfg.DebugModules), replay.Options{
			Socket:       cfg.Replay.Socket,
			DrainTimeout: cfg.Replay.DrainTimeout,
			ReadSize:     cfg.Replay.ReadSize,
			Rewrites:     cfg.Replay.Rewrites,
		}), nil
	case "decipher":
		return decipher.New(log.ForModule(n.logger, log.ModuleDecode, cfg.DebugModules), os.Stdout, decipher.Options{
			Updates: cfg.Decipher.Updates,
			NoColor: cfg.Decipher.NoColor || !term.IsTerminal(int(os.Stdout.Fd())),
		}), nil
	case "ingest":
		sink, err := n.metricSink()
		if err != nil {
			return nil, err
		}
		return ingest.New(log.ForModule(n.logger, log.ModuleIngest, cfg.DebugModules), sink, ingestOptions(cfg)), nil
	case "series":
		return series.New(log.ForModule(n.logger, log.ModuleIngest, cfg.DebugModules), cfg.Ingest.Catalog.Path, ingestOptions(cfg)), nil
	default:
		return nil, errors.New("invalid command")
	}
}

func (n *ServiceProvider) metricSink() (ingest.MetricSink, error) {
	cfg := n.cfg.Ingest
	logger := log.ForModule(n.logger, log.ModuleSink, n.cfg.DebugModules)
	switch cfg.Sink {
	case models.SinkLog, "":
		return logsink.New(logger, zapcore.InfoLevel), nil
	case models.SinkSQLite:
		return sqlite.New(logger, cfg.SQLite.Path), nil
	case models.SinkCatalog:
		return catalog.New(logger, cfg.Catalog.Path), nil
	case models.SinkPostgres:
		return postgres.New(logger, postgres.Options{
			URL:         cfg.Postgres.URL,
			Timescale:   cfg.Postgres.Timescale,
			BatchSize:   cfg.Postgres.BatchSize,
			TablePrefix: cfg.Postgres.TablePrefix,
			SeriesCache: cfg.Postgres.SeriesCache,
		})
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

func ingestOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		QueueSize:     cfg.Ingest.QueueSize,
		Workers:       cfg.Ingest.Workers,
		ProgressEvery: cfg.Ingest.ProgressEvery,
	}
}
