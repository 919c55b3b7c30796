package server

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/core/llm"
)

type providerRecorder interface {
	RecordProviderCall(provider, operation string, latency time.Duration, success bool)
}

// providerSlots bounds in-flight hosted calls. A caller that cannot get a
// slot before its deadline fails like an unavailable provider.
type providerSlots struct {
	sem *semaphore.Weighted
}

func newProviderSlots(n int) *providerSlots {
	return &providerSlots{sem: semaphore.NewWeighted(int64(max(n, 1)))}
}

func (p *providerSlots) acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "no provider slot available")
	}
	return func() { p.sem.Release(1) }, nil
}

// instrumentedEmbedder times hosted embedding calls. It sits under the
// vector cache so hits are not counted as calls.
type instrumentedEmbedder struct {
	ai.EmbeddingService
	provider string
	recorder providerRecorder
	slots    *providerSlots
}

func (e *instrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := e.slots.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	vectors, err := e.EmbeddingService.EmbedBatch(ctx, texts)
	e.recorder.RecordProviderCall(e.provider, "embed", time.Since(start), err == nil)
	return vectors, err
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// instrumentedLLM times hosted chat calls.
type instrumentedLLM struct {
	llm.Service
	recorder providerRecorder
	slots    *providerSlots
}

func (l *instrumentedLLM) ChatJSON(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	release, err := l.slots.acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	defer release()

	start := time.Now()
	reply, stats, err := l.Service.ChatJSON(ctx, messages)
	l.recorder.RecordProviderCall(l.Provider(), "chat_json", time.Since(start), err == nil)
	return reply, stats, err
}
