// Command cortex runs the trading brain: it consumes market events from
// the queue, analyzes them, makes risk-adjusted trading decisions and
// dispatches commands to the executor, while serving an operational
// HTTP API.
//
// Usage:
//
//	cortex --config config.yaml
//
// When llm.enabled is false the decision engine runs in deterministic
// rule mode, which needs no API keys.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/brain"
	"github.com/tradecortex/cortex/internal/clients"
	"github.com/tradecortex/cortex/internal/services/analyzer"
	"github.com/tradecortex/cortex/internal/services/engine"
	"github.com/tradecortex/cortex/internal/services/memory"
	"github.com/tradecortex/cortex/internal/services/promptbuilder"
	"github.com/tradecortex/cortex/internal/services/risk"
	"github.com/tradecortex/cortex/internal/storage/experiences"
	"github.com/tradecortex/cortex/internal/web"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := clients.NewEventQueue(cfg.Queue)
	defer queue.Close()

	embedder := clients.NewOpenAIEmbedder(cfg.Embeddings.BaseURL, cfg.Embeddings.APIKey, cfg.Embeddings.Model, cfg.Embeddings.Timeout)
	index := clients.NewChromaIndex(cfg.VectorIndex.BaseURL, cfg.VectorIndex.Collection, cfg.VectorIndex.Timeout)

	journal, err := experiences.NewWALStore(cfg.Storage.JournalDir)
	if err != nil {
		logger.Fatal("failed to open experience journal", zap.Error(err))
	}
	defer journal.Close()

	var chat clients.ChatClient
	if cfg.LLM.Enabled {
		chat = clients.NewOpenAICompatibleClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Timeout)
		logger.Info("decision engine in LLM mode", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Info("decision engine in rule mode")
	}

	pb := promptbuilder.NewPromptBuilder(logger)
	mem := memory.NewService(logger, embedder, index, journal)

	b := brain.New(logger, cfg.Brain,
		queue,
		analyzer.New(logger, cfg.Analyzer),
		engine.New(logger, chat, pb, cfg.LLM, cfg.Engine),
		risk.New(logger, cfg.Risk),
		mem,
	)

	server := web.NewServer(cfg.Web.Addr, b, journal, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		b.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("cortex exited with error", zap.Error(err))
	}
	logger.Info("cortex stopped")
}
