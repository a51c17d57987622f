package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"voicestudio/cfg"
	"voicestudio/db"
	"voicestudio/internal/app/artifacts"
	"voicestudio/internal/app/batch"
	"voicestudio/internal/app/conversion"
	"voicestudio/internal/app/metrics"
	"voicestudio/internal/app/notifications"
	"voicestudio/internal/app/telemetry"
	"voicestudio/pkg/ffmpeg"
	"voicestudio/pkg/openvoice"
	"voicestudio/pkg/preset"
	"voicestudio/pkg/s3client"
	"voicestudio/pkg/slg"
	"voicestudio/pkg/tts"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	slogmulti "github.com/samber/slog-multi"
)

// app holds everything both serve and batch need. close releases it in
// reverse order of construction.
type app struct {
	cfg    *cfg.Config
	logger *slog.Logger
	reg    *prometheus.Registry

	store   *artifacts.Store
	journal *db.DB
	bus     *notifications.Client
	orch    *batch.Orchestrator

	closers []func() error
}

func newApp(ctx context.Context, cfgPath string, observer batch.Observer) (*app, error) {
	config, err := cfg.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: config}

	if err := a.initLogger(); err != nil {
		return nil, err
	}

	if err := a.init(ctx, observer); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) initLogger() error {
	level := a.cfg.Log.SlogLevel()
	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})}

	if a.cfg.InfluxDB.URL != "" {
		influxDBClient := influxdb2.NewClient(a.cfg.InfluxDB.URL, a.cfg.InfluxDB.Token)

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if ok, err := influxDBClient.Ping(pingCtx); err != nil {
			return fmt.Errorf("failed to ping influxdb: %w", err)
		} else if !ok {
			return errors.New("failed to ping influxdb")
		}

		influxWriter := influxDBClient.WriteAPI(a.cfg.InfluxDB.Org, a.cfg.InfluxDB.Bucket)
		handlers = append(handlers, &slg.InfluxDBHandler{InfluxDBWriter: influxWriter, Level: level})

		a.closers = append(a.closers, func() error {
			influxWriter.Flush()
			influxDBClient.Close()
			return nil
		})
	}

	a.logger = slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(a.logger)

	return nil
}

func (a *app) init(ctx context.Context, observer batch.Observer) error {
	c := a.cfg
	logger := a.logger

	telemetryCfg := telemetry.Config{ServiceName: c.Telemetry.ServiceName, Version: version}
	if c.Telemetry.TraceStdout {
		telemetryCfg.Writer = os.Stdout
	}
	shutdownTracing, err := telemetry.Setup(ctx, telemetryCfg, logger.WithGroup("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	a.reg = prometheus.NewRegistry()
	metrics.RegisterMetrics(a.reg, version)

	a.store, err = artifacts.New(c.Artifacts.WorkDir, nil, logger.WithGroup("artifacts"))
	if err != nil {
		return err
	}
	if c.Artifacts.CleanOnExit {
		a.closers = append(a.closers, a.store.Clean)
	}
	if leftover, err := a.store.Indices(); err != nil {
		logger.Warn("failed to scan work dir", "dir", a.store.Dir(), "err", err)
	} else if len(leftover) > 0 {
		logger.Info("work dir holds audio from a previous session", "dir", a.store.Dir(), "indices", leftover)
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Minute,
	}

	synth, err := newSynthesizer(c, httpClient)
	if err != nil {
		return err
	}

	deps := batch.Deps{
		Synth:       synth,
		Transcoder:  ffmpeg.New(&c.Ffmpeg),
		Store:       a.store,
		OpenSession: sessionOpener(openvoice.New(httpClient, &c.OpenVoice), c.Conversion, logger.WithGroup("conversion")),
		Presets:     preset.NewStore(c.Presets.Dir, logger.WithGroup("presets")),
	}

	if c.DB.Driver != "" {
		createDbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		a.journal, err = db.New(createDbCtx, &c.DB)
		if err != nil {
			return fmt.Errorf("failed to init journal db: %w", err)
		}
		a.closers = append(a.closers, a.journal.Close)
		deps.Journal = a.journal
	}

	if c.S3.Enabled() {
		s3, err := s3client.New(&c.S3, logger.WithGroup("s3"))
		if err != nil {
			return fmt.Errorf("failed to init s3 client: %w", err)
		}
		deps.Exporter = s3
	}

	a.bus = notifications.New(logger.WithGroup("notifications"))
	a.closers = append(a.closers, a.bus.Close)

	deps.Observer = a.bus
	if observer != nil {
		bus := a.bus
		deps.Observer = batch.ObserverFunc(func(ev batch.Event) {
			bus.Notify(ev)
			observer.Notify(ev)
		})
	}

	a.orch = batch.New(ctx, &c.Batch, deps, logger.WithGroup("batch"))

	return nil
}

func newSynthesizer(c *cfg.Config, httpClient *http.Client) (tts.Synthesizer, error) {
	switch c.TTS.Engine {
	case cfg.EngineHTTP:
		return tts.NewHTTPSynthesizer(httpClient, &c.TTS.HTTP), nil
	default:
		synth, err := tts.NewExecSynthesizer(&c.TTS.Exec)
		if err != nil {
			return nil, fmt.Errorf("failed to init tts: %w", err)
		}
		return synth, nil
	}
}

// sessionOpener loads a fresh model from the sidecar for every conversion run.
func sessionOpener(client *openvoice.Client, convCfg conversion.Config, logger *slog.Logger) batch.SessionOpener {
	loader := conversion.LoaderFunc(func(ctx context.Context) (conversion.Model, error) {
		model, err := client.Load(ctx)
		if err != nil {
			return nil, err
		}
		return model, nil
	})

	return func(ctx context.Context) (batch.ConversionSession, error) {
		session, err := conversion.Open(ctx, loader, convCfg, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// close waits for background work, then releases resources. The context
// passed to newApp must be cancelled before calling it.
func (a *app) close() {
	if a.orch != nil {
		a.orch.Wait()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", "err", err)
		}
	}
}
