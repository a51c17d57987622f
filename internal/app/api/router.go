package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"voicestudio/db"
	"voicestudio/internal/app/batch"
	"voicestudio/pkg/dsp"
	"voicestudio/pkg/slg"
	"voicestudio/pkg/tts"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogchi "github.com/samber/slog-chi"
)

type Config struct {
	Port           int           `yaml:"port" env:"PORT"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	OutDir         string        `yaml:"out_dir" env:"OUT_DIR"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// Orchestrator is the part of batch.Orchestrator the HTTP surface drives.
type Orchestrator interface {
	Segments() []batch.Segment
	Load(texts []string, voice string, cfg dsp.Config) ([]batch.Segment, error)
	Append(text, voice string, cfg dsp.Config) batch.Segment
	UpdateSegment(index int, upd batch.Update) (batch.Segment, error)
	RemoveSegment(index int) error
	ApplyPreset(index int, name string) (batch.Segment, error)
	Presets() ([]string, error)

	SubmitGenerateOne(index int) error
	SubmitGenerateAll() error
	SubmitConvertOne(index int, referencePath string) error
	SubmitConvertAll(referencePath string) error
	Converting() bool

	Save(ctx context.Context, index int, dest string) error
	SaveAll(ctx context.Context, dir string) (batch.Summary, error)
	Preview(ctx context.Context, text, voice string, cfg dsp.Config) (string, error)
	PrepareReference(ctx context.Context, src string, cfg *dsp.Config) (string, error)
	Playlist() ([]batch.Track, error)
	Voices(ctx context.Context, prefixes ...string) ([]tts.Voice, error)
}

var _ Orchestrator = &batch.Orchestrator{}

type RunStore interface {
	GetRuns(ctx context.Context, limit int) ([]*db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
	GetSegmentEvents(ctx context.Context, runID string) ([]*db.SegmentEvent, error)
}

type EventSource interface {
	Subscribe(ctx context.Context) (<-chan batch.Event, error)
}

type API struct {
	cfg    *Config
	logger *slog.Logger

	orch   Orchestrator
	runs   RunStore
	events EventSource

	gatherer prometheus.Gatherer
}

func NewAPI(cfg *Config, logger *slog.Logger, orch Orchestrator, runs RunStore, events EventSource, gatherer prometheus.Gatherer) *API {
	return &API{
		cfg:    cfg,
		logger: logger,

		orch:   orch,
		runs:   runs,
		events: events,

		gatherer: gatherer,
	}
}

func (api *API) NewRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(slogchi.New(api.logger))
	router.Use(api.requestLogger)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.StripSlashes)

	router.Use(middleware.Recoverer)

	if api.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))
	}

	router.Get("/ws", api.wsHandler)

	router.Group(func(router chi.Router) {
		if api.cfg.Timeout > 0 {
			router.Use(middleware.Timeout(api.cfg.Timeout))
		}

		router.Get("/status", api.status)
		router.Get("/voices", api.voices)
		router.Get("/presets", api.presets)
		router.Get("/playlist", api.playlist)
		router.Get("/runs", api.listRuns)
		router.Get("/runs/{id}", api.getRun)

		router.Route("/segments", func(router chi.Router) {
			router.Get("/", api.listSegments)
			router.Put("/", api.loadSegments)
			router.Post("/", api.appendSegment)

			router.Route("/{index}", func(router chi.Router) {
				router.Put("/", api.updateSegment)
				router.Delete("/", api.removeSegment)
				router.Post("/preset", api.applyPreset)
				router.Post("/generate", api.generateOne)
				router.Post("/convert", api.convertOne)
				router.Post("/save", api.saveOne)
			})
		})

		router.Post("/generate", api.generateAll)
		router.Post("/convert", api.convertAll)
		router.Post("/save", api.saveAll)
		router.Post("/preview", api.preview)
		router.Post("/references", api.uploadReference)
	})

	return router
}

// requestLogger puts a logger tagged with the request id into the request context.
func (api *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := api.logger.With("req_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(slg.WithSlog(r.Context(), logger)))
	})
}
