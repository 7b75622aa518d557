package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/attributes"
	"github.com/kozaktomas/face-auth/internal/auth"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/postgres"
	"github.com/kozaktomas/face-auth/internal/embedding"
	"github.com/kozaktomas/face-auth/internal/embedding/dlib"
	"github.com/kozaktomas/face-auth/internal/faceapi"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	_ auth.RemoteFaces = (*faceapi.Client)(nil)
	_ auth.Embedder    = (*embedding.Extractor)(nil)
)

// app holds everything a command needs to talk to the authentication service.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	registry  *prometheus.Registry
	extractor *embedding.Extractor
	service   *auth.Service
	closers   []func() error
}

// newApp loads the configuration and wires the service with its collaborators.
// The caller must call close when done.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Log.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.wire(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	deps := auth.Deps{Metrics: m, Logger: a.log}

	if a.cfg.FaceAPI.Enabled() {
		client, err := faceapi.New(faceapi.Config{
			Endpoint:       a.cfg.FaceAPI.Endpoint,
			Key:            a.cfg.FaceAPI.Key,
			GroupID:        a.cfg.FaceAPI.GroupID,
			ConnectTimeout: a.cfg.FaceAPI.ConnectTimeout,
			ReadTimeout:    a.cfg.FaceAPI.ReadTimeout,
			DetectionOnly:  a.cfg.FaceAPI.DetectionOnly,
		}, faceapi.WithLogger(a.log), faceapi.WithMetrics(m))
		if err != nil {
			return fmt.Errorf("failed to create face API client: %w", err)
		}
		deps.Remote = client
		a.log.Info("remote face service enabled",
			zap.String("endpoint", a.cfg.FaceAPI.Endpoint),
			zap.String("group_id", client.GroupID()),
			zap.Bool("detection_only", a.cfg.FaceAPI.DetectionOnly))
	} else {
		a.log.Info("remote face service not configured, using local embeddings only")
	}

	a.extractor = embedding.NewExtractor(dlib.Loader(a.cfg.Embedding.ModelsDir), embedding.Options{
		Policy:       embedding.ParseSelectionPolicy(a.cfg.Embedding.SelectionPolicy),
		MaxImageSize: a.cfg.Embedding.MaxImageSize,
		Dim:          a.cfg.Embedding.Dim,
		Logger:       a.log,
	})
	a.closers = append(a.closers, func() error {
		a.extractor.Close()
		return nil
	})
	deps.Embedder = a.extractor

	if err := a.wireVectorStore(ctx, &deps, m); err != nil {
		return err
	}

	store, err := storage.NewFileStore(a.cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to open reference photo storage: %w", err)
	}
	deps.Store = store

	provider, err := attributes.New(ctx, a.cfg.Attributes)
	if err != nil {
		return fmt.Errorf("failed to create attributes provider: %w", err)
	}
	if provider != nil {
		deps.Attributes = provider
		a.log.Info("face attributes enabled", zap.String("provider", provider.Name()))
	}

	a.service, err = auth.NewService(deps, auth.Settings{
		Thresholds: auth.Thresholds{
			RemoteConfidence: a.cfg.Auth.RemoteConfidenceThreshold,
			LocalDistance:    a.cfg.Auth.LocalDistanceThreshold,
		},
		TopK:              a.cfg.Auth.LocalTopK,
		TrainPollInterval: a.cfg.FaceAPI.TrainPollInterval,
		TrainTimeout:      a.cfg.FaceAPI.TrainTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}
	return nil
}

// wireVectorStore uses PostgreSQL when DATABASE_URL is set and the in-memory HNSW store otherwise.
func (a *app) wireVectorStore(ctx context.Context, deps *auth.Deps, m *metrics.Metrics) error {
	if a.cfg.Database.URL != "" {
		pool, err := postgres.Open(ctx, &a.cfg.Database, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		deps.Embeddings = postgres.NewEmbeddingRepository(pool, a.log, m.ObserveStrategy)
		deps.Enrollments = postgres.NewEnrollmentRepository(pool)
		a.log.Info("using PostgreSQL vector store")
		return nil
	}

	mem := database.NewMemoryStore(a.log, m.ObserveStrategy)
	if path := a.cfg.Database.HNSWIndexPath; path != "" {
		if err := mem.Load(path); err != nil {
			return fmt.Errorf("failed to load HNSW snapshot: %w", err)
		}
		if meta, err := database.LoadHNSWMetadata(path); err == nil {
			a.log.Info("loaded HNSW snapshot",
				zap.String("path", path),
				zap.Int("records", meta.RecordCount),
				zap.Int("owners", meta.OwnerCount),
				zap.Time("built", meta.BuildTime))
		}
		a.closers = append(a.closers, mem.Save)
	} else {
		a.log.Warn("DATABASE_URL and HNSW_INDEX_PATH are empty, enrollments live in memory only")
	}
	deps.Embeddings = mem
	deps.Enrollments = mem
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}
