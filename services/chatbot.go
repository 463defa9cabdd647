package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rag-chatbot-platform/internal/crawler"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
	"rag-chatbot-platform/models"
)

const DefaultLogTimeout = 5 * time.Second

// ErrInvalidSource means an ingest request did not name exactly one source.
var ErrInvalidSource = errors.New("ingest source must set exactly one of text, url or pdf")

type SourceStore interface {
	LoadSource(ctx context.Context, tenantID string) (rag.Source, error)
	Identity(ctx context.Context, tenantID string) (rag.Identity, error)
	SaveTrainingText(ctx context.Context, src models.TrainingSource) error
}

// ConversationLog receives every answered exchange. Failures are logged, never
// surfaced to the asker.
type ConversationLog interface {
	Record(ctx context.Context, tenantID, sessionID, question, answer string) error
}

type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (*crawler.Result, error)
}

// Publisher tells other processes that a tenant's index changed.
type Publisher interface {
	Publish(ctx context.Context, tenantID string) error
}

// IngestSource names one of: raw text, a URL to scrape, or PDF bytes.
type IngestSource struct {
	Text     string
	URL      string
	PDF      []byte
	Filename string
}

type IngestResult struct {
	SourceType string
	Passages   int
	Chars      int
}

type ChatDeps struct {
	Registry  *rag.Registry
	Sessions  rag.SessionStore
	Store     SourceStore
	Log       ConversationLog
	Scraper   Scraper
	Publisher Publisher
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

type ChatConfig struct {
	EmbedTimeout  time.Duration
	ScrapeTimeout time.Duration
	LogTimeout    time.Duration
	Fallback      string
}

// ChatService runs the two core operations: ingest a tenant's source and
// answer a question against it.
type ChatService struct {
	ChatDeps
	cfg ChatConfig
	wg  sync.WaitGroup
}

func NewChatService(deps ChatDeps, cfg ChatConfig) *ChatService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.LogTimeout <= 0 {
		cfg.LogTimeout = DefaultLogTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = rag.FallbackAnswer
	}
	return &ChatService{ChatDeps: deps, cfg: cfg}
}

// Ingest resolves the source to text, builds a fresh index and replaces the
// tenant's current one. The text is persisted before the new index is
// installed; on any failure the previous index stays in place.
func (s *ChatService) Ingest(ctx context.Context, tenantID string, in IngestSource) (*IngestResult, error) {
	stored, err := s.resolve(ctx, tenantID, in)
	if err != nil {
		s.Logger.Warn("ingest source rejected", "tenant_id", tenantID, "error", err)
		return nil, err
	}

	identity, err := s.Store.Identity(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: identity for %s: %w", rag.ErrSourceFetchFailed, tenantID, err)
	}

	src := rag.Source{
		Identity: identity,
		Documents: []rag.Document{{
			Text: stored.Text,
			Metadata: map[string]any{
				"source_type": stored.SourceType,
				"source_url":  stored.SourceURL,
			},
		}},
	}
	chain, err := s.Registry.Replace(ctx, tenantID, src, func(ctx context.Context) error {
		return s.Store.SaveTrainingText(ctx, stored)
	})
	if err != nil {
		s.Logger.Error("ingest failed", "tenant_id", tenantID, "source_type", stored.SourceType, "error", err)
		return nil, err
	}

	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, tenantID); err != nil {
			s.Logger.Warn("failed to publish index invalidation", "tenant_id", tenantID, "error", err)
		}
	}

	s.Logger.Info("ingested source",
		"tenant_id", tenantID,
		"source_type", stored.SourceType,
		"passages", chain.Index.Len(),
	)
	return &IngestResult{
		SourceType: stored.SourceType,
		Passages:   chain.Index.Len(),
		Chars:      len([]rune(stored.Text)),
	}, nil
}

func (s *ChatService) resolve(ctx context.Context, tenantID string, in IngestSource) (models.TrainingSource, error) {
	set := 0
	for _, ok := range []bool{strings.TrimSpace(in.Text) != "", in.URL != "", len(in.PDF) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		if set == 0 && in.Text != "" {
			return models.TrainingSource{}, rag.ErrEmptySource
		}
		return models.TrainingSource{}, ErrInvalidSource
	}

	out := models.TrainingSource{ChatbotID: tenantID}
	switch {
	case in.URL != "":
		if s.Scraper == nil {
			return out, fmt.Errorf("%w: scraping is not configured", rag.ErrSourceFetchFailed)
		}
		sctx := ctx
		if s.cfg.ScrapeTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
			defer cancel()
		}
		res, err := s.Scraper.Scrape(sctx, in.URL)
		if err != nil {
			return out, err
		}
		out.SourceType = models.SourceURL
		out.SourceURL = res.URL
		out.Text = res.Text
	case len(in.PDF) > 0:
		text, err := ExtractPDFText(in.PDF)
		if err != nil {
			return out, err
		}
		out.SourceType = models.SourcePDF
		out.Filename = in.Filename
		out.Text = text
	default:
		out.SourceType = models.SourceText
		out.Text = strings.TrimSpace(in.Text)
	}

	if strings.TrimSpace(out.Text) == "" {
		return out, rag.ErrEmptySource
	}
	return out, nil
}

// Answer always returns displayable text. Missing indexes are rebuilt from
// stored source; every failure degrades to the fallback answer.
func (s *ChatService) Answer(ctx context.Context, tenantID, question, sessionKey string) string {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return s.cfg.Fallback
	}

	answer, outcome := s.answer(ctx, tenantID, question, sessionKey)
	s.Metrics.RecordAnswer(outcome, time.Since(start).Seconds())
	s.record(ctx, tenantID, sessionKey, question, answer)
	return answer
}

func (s *ChatService) answer(ctx context.Context, tenantID, question, sessionKey string) (string, string) {
	logger := s.Logger.With("tenant_id", tenantID)

	chain, err := s.Registry.Lookup(tenantID)
	if errors.Is(err, rag.ErrIndexNotReady) {
		logger.Info("index not ready, rebuilding from stored source")
		chain, err = s.Registry.GetOrBuild(ctx, tenantID, func(ctx context.Context) (rag.Source, error) {
			return s.Store.LoadSource(ctx, tenantID)
		})
	}
	if err != nil {
		logger.Error("no index available", "error", err)
		return s.cfg.Fallback, "not_ready"
	}

	key := rag.SessionKey(tenantID, sessionKey)
	history, err := s.Sessions.History(ctx, key)
	if err != nil {
		logger.Warn("session history unavailable", "error", err)
		history = nil
	}

	rctx := ctx
	if s.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		defer cancel()
	}
	passages, err := chain.Retriever.Fetch(rctx, question)
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		return s.cfg.Fallback, "fallback"
	}

	answer, err := chain.Generator.Generate(ctx, rag.Prompt{
		Identity: chain.Identity,
		Passages: passages,
		History:  history,
		Question: question,
	})
	if err != nil {
		logger.Error("generation failed", "error", err)
		return answer, "fallback"
	}

	if err := s.Sessions.Append(ctx, key, rag.Turn{Question: question, Answer: answer}); err != nil {
		logger.Warn("failed to append session turn", "error", err)
	}
	return answer, "answered"
}

// record hands the exchange to the conversation log without blocking the
// answer. The write outlives the request but not LogTimeout.
func (s *ChatService) record(ctx context.Context, tenantID, sessionKey, question, answer string) {
	if s.Log == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LogTimeout)
		defer cancel()
		if err := s.Log.Record(lctx, tenantID, sessionKey, question, answer); err != nil {
			s.Logger.Warn("failed to record conversation", "tenant_id", tenantID, "error", err)
		}
	}()
}

// Wait blocks until pending conversation log writes finish.
func (s *ChatService) Wait() {
	s.wg.Wait()
}

// Status reports the tenant's index state without triggering a build.
func (s *ChatService) Status(tenantID string) models.ChatbotStatus {
	st := models.ChatbotStatus{ChatbotID: tenantID, State: s.Registry.State(tenantID).String()}
	if chain, err := s.Registry.Lookup(tenantID); err == nil {
		built := chain.BuiltAt
		st.Passages = chain.Index.Len()
		st.BuiltAt = &built
	}
	return st
}

type URLSourceLister interface {
	URLSources(ctx context.Context) ([]models.TrainingSource, error)
}

// RefreshURLSources re-scrapes and re-ingests every website-trained tenant.
// One tenant failing does not stop the others.
func (s *ChatService) RefreshURLSources(ctx context.Context, lister URLSourceLister) error {
	sources, err := lister.URLSources(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.Ingest(ctx, src.ChatbotID, IngestSource{URL: src.SourceURL}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.ChatbotID, err))
		}
	}
	s.Logger.Info("refreshed website sources", "total", len(sources), "failed", len(errs))
	return errors.Join(errs...)
}
