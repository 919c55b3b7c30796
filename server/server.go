package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/configloader"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/core/llm"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/relevance"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/metrics"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	apiv1 "github.com/JohnV2002/Finja-AI-Ecosystem/server/router/api/v1"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/runner/backup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/service/memory"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	metrics    *metrics.PrometheusExporter
	cache      *cache.Manager
	memory     *memory.Service
	backup     *backup.Runner

	runnerCancel context.CancelFunc
	runners      sync.WaitGroup
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	if _, err := store.ListUserIDs(ctx); err != nil {
		return nil, errors.Wrap(err, "store is not readable")
	}

	s := &Server{
		Profile: profile,
		Store:   store,
		metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}

	s.cache = cache.NewManager(store, cache.Config{
		IdleTimeout:   profile.CacheIdleTimeout,
		SweepInterval: profile.CacheSweepInterval,
		Observer:      s.metrics,
	})

	loader := configloader.NewLoader(profile.ConfigDir)
	prompts, err := relevance.LoadPrompts(loader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load prompts")
	}
	denylist, err := relevance.LoadDenylist(loader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load filters")
	}

	aiConfig := ai.NewConfigFromProfile(profile)
	if err := aiConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid provider configuration")
	}

	dedupConfig := dedup.Config{
		DupCosine: profile.DupCosine,
		DupLev:    profile.DupLev,
		Timeout:   profile.ProviderTimeout,
	}
	slots := newProviderSlots(profile.ProviderConcurrency)
	localEmbedder := relevance.NewLocalEmbedder()
	var primaryEmbedder dedup.Embedder = localEmbedder
	if aiConfig.EmbeddingEnabled {
		embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
		if err != nil {
			slog.Warn("Failed to initialize embedding service, using local vectors", "error", err)
		} else {
			primaryEmbedder = ai.NewCachedEmbeddingService(
				&instrumentedEmbedder{EmbeddingService: embeddingService, provider: aiConfig.Embedding.Provider, recorder: s.metrics, slots: slots},
				aiConfig.Embedding.CacheSize,
				s.metrics,
			)
			slog.Info("Embedding service initialized", "provider", aiConfig.Embedding.Provider, "model", aiConfig.Embedding.Model)
		}
	}

	gateOptions := []relevance.GateOption{
		relevance.WithScorer(relevance.NewEmbeddingScorer(localEmbedder, profile.RelevanceTopK)),
		relevance.WithObserver(s.metrics),
	}
	var memoryOptions []memory.Option
	if aiConfig.LLMEnabled {
		llmService, err := llm.NewService(&llm.Config{
			Provider:    aiConfig.LLM.Provider,
			Model:       aiConfig.LLM.Model,
			APIKey:      aiConfig.LLM.APIKey,
			BaseURL:     aiConfig.LLM.BaseURL,
			MaxTokens:   aiConfig.LLM.MaxTokens,
			Temperature: aiConfig.LLM.Temperature,
			Timeout:     aiConfig.Timeout,
		})
		if err != nil {
			slog.Warn("Failed to initialize LLM service",
				"provider", aiConfig.LLM.Provider,
				"error", err,
				"note", "relevance falls back to local scoring",
			)
		} else {
			instrumented := &instrumentedLLM{Service: llmService, recorder: s.metrics, slots: slots}
			gateOptions = append(gateOptions, relevance.WithJudge(relevance.NewHostedJudge(instrumented, prompts)))
			memoryOptions = append(memoryOptions, memory.WithExtractor(relevance.NewHostedExtractor(instrumented, prompts)))
			slog.Info("LLM service initialized", "provider", aiConfig.LLM.Provider, "model", aiConfig.LLM.Model)
		}
	} else {
		slog.Info("Hosted relevance disabled", "processing_mode", profile.ProcessingMode)
	}

	gate := relevance.NewGate(relevance.Config{
		MinChars:     profile.MinChars,
		MinTokens:    profile.MinTokens,
		MinRelevance: profile.MinRelevance,
		Timeout:      profile.ProviderTimeout,
		Denylist:     denylist,
	}, gateOptions...)

	memoryOptions = append(memoryOptions,
		memory.WithMetrics(s.metrics),
		memory.WithLocalDetector(dedup.NewDetector(dedupConfig, localEmbedder)),
	)
	s.memory = memory.NewService(memory.Config{
		MaxItems:       profile.MaxMemoriesPerUser,
		ExtractTimeout: profile.ProviderTimeout,
		MaxTextChars:   profile.MaxTextChars,
	}, s.cache, store, dedup.NewDetector(dedupConfig, primaryEmbedder), gate, memoryOptions...)

	s.backup = backup.NewRunner(store, s.cache, backup.Config{
		Dir:           profile.BackupDir(),
		Interval:      profile.BackupInterval,
		RetentionDays: profile.BackupRetentionDays,
	}, s.metrics)

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	apiv1.NewAPIV1Service(profile, s.memory, s.backup, s.metrics).RegisterRoutes(echoServer)
	s.echoServer = echoServer

	if !profile.IsAdminEnabled() {
		slog.Info("Admin endpoints disabled", "note", "set MEMORY_ADMIN_API_KEY to enable them")
	}
	return s, nil
}

// Start launches the cache sweep, the backup runner and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = netutil.LimitListener(listener, s.Profile.MaxConnections)

	runCtx, cancel := context.WithCancel(ctx)
	s.runnerCancel = cancel
	s.cache.Start(runCtx)
	s.runners.Add(1)
	go func() {
		defer s.runners.Done()
		s.backup.Run(runCtx)
	}()

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener, waits for the runners, flushes the cache and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown echo server", "error", err)
	}

	if s.runnerCancel != nil {
		s.runnerCancel()
	}
	s.runners.Wait()

	if err := s.cache.Close(ctx); err != nil {
		slog.Error("failed to flush memory cache", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("server stopped properly")
}

// Handler exposes the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Address returns the bound listener address once started.
func (s *Server) Address() string {
	if s.echoServer.Listener == nil {
		return ""
	}
	return s.echoServer.Listener.Addr().String()
}
