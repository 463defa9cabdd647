package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/internal/crawler"
	"rag-chatbot-platform/internal/database"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoModel answers with the context it was given, so tests can see exactly
// what retrieval produced.
type echoModel struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (m *echoModel) Name() string       { return "echo" }
func (m *echoModel) ContextWindow() int { return 0 }

func (m *echoModel) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "Answer: " + between(prompt, "Context: ", "\n\nChat History:"), nil
}

func (m *echoModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func between(s, start, end string) string {
	_, after, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	before, _, _ := strings.Cut(after, end)
	return before
}

type failingEmbedder struct{ rag.Embedder }

func (failingEmbedder) EmbedMany(context.Context, []string) ([]rag.Embedding, error) {
	return nil, rag.ErrEmbeddingUnavailable
}

type memStore struct {
	mu       sync.Mutex
	bots     map[string]rag.Identity
	sources  map[string]models.TrainingSource
	saveErr  error
	loadHits int
}

func newMemStore(tenants ...string) *memStore {
	s := &memStore{bots: map[string]rag.Identity{}, sources: map[string]models.TrainingSource{}}
	for _, t := range tenants {
		s.bots[t] = rag.Identity{Name: "Bot " + t, Origin: t + ".example"}
	}
	return s
}

func (s *memStore) Identity(_ context.Context, tenantID string) (rag.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bots[tenantID]
	if !ok {
		return rag.Identity{}, database.ErrNotFound
	}
	return id, nil
}

func (s *memStore) SaveTrainingText(_ context.Context, src models.TrainingSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sources[src.ChatbotID] = src
	return nil
}

func (s *memStore) LoadSource(_ context.Context, tenantID string) (rag.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadHits++
	src, ok := s.sources[tenantID]
	if !ok {
		return rag.Source{}, rag.ErrSourceFetchFailed
	}
	return rag.Source{Identity: s.bots[tenantID], Documents: []rag.Document{{Text: src.Text}}}, nil
}

func (s *memStore) URLSources(context.Context) ([]models.TrainingSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TrainingSource
	for _, src := range s.sources {
		if src.SourceType == models.SourceURL {
			out = append(out, src)
		}
	}
	return out, nil
}

type recordedTurn struct {
	tenant, session, question, answer string
}

type memLog struct {
	mu    sync.Mutex
	turns []recordedTurn
	err   error
}

func (l *memLog) Record(_ context.Context, tenantID, sessionID, question, answer string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, recordedTurn{tenantID, sessionID, question, answer})
	return l.err
}

func (l *memLog) all() []recordedTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedTurn(nil), l.turns...)
}

type fakeScraper struct {
	pages map[string]string
}

func (f *fakeScraper) Scrape(_ context.Context, rawURL string) (*crawler.Result, error) {
	text, ok := f.pages[rawURL]
	if !ok {
		return nil, rag.ErrSourceFetchFailed
	}
	return &crawler.Result{URL: rawURL, Text: text}, nil
}

type countingPublisher struct {
	mu      sync.Mutex
	tenants []string
}

func (p *countingPublisher) Publish(_ context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants = append(p.tenants, tenantID)
	return nil
}

type harness struct {
	svc       *ChatService
	registry  *rag.Registry
	store     *memStore
	log       *memLog
	model     *echoModel
	sessions  *rag.MemorySessions
	publisher *countingPublisher
}

func newHarness(t *testing.T, embedder rag.Embedder, tenants ...string) *harness {
	t.Helper()
	if embedder == nil {
		embedder = ai.NewHashEmbedder(256)
	}
	model := &echoModel{}
	registry := rag.NewRegistry(&rag.Builder{
		Chunker:   rag.NewChunker(rag.WithChunkSize(120), rag.WithOverlap(20)),
		Embedder:  embedder,
		Generator: rag.NewGenerator(model, rag.GeneratorConfig{MaxResponseChars: 2000}),
		TopK:      2,
	}, rag.WithRegistryLogger(quietLogger()), rag.WithBuildTimeout(5*time.Second))

	h := &harness{
		registry:  registry,
		store:     newMemStore(tenants...),
		log:       &memLog{},
		model:     model,
		sessions:  rag.NewMemorySessions(3),
		publisher: &countingPublisher{},
	}
	h.svc = NewChatService(ChatDeps{
		Registry:  registry,
		Sessions:  h.sessions,
		Store:     h.store,
		Log:       h.log,
		Scraper:   &fakeScraper{pages: map[string]string{"https://acme.example/": "Acme ships worldwide within five business days."}},
		Publisher: h.publisher,
		Logger:    quietLogger(),
	}, ChatConfig{EmbedTimeout: time.Second})
	return h
}

func TestRefundPolicyIsRetrieved(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()

	res, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Our refund policy allows returns within 30 days."})
	require.NoError(t, err)
	assert.Equal(t, models.SourceText, res.SourceType)
	assert.Equal(t, 1, res.Passages)

	answer := h.svc.Answer(ctx, "T1", "What is the refund window?", "s1")
	assert.Contains(t, answer, "Our refund policy allows returns within 30 days.")
	assert.Contains(t, h.model.lastPrompt(), "You are Bot T1, a helpful AI assistant for T1.example.")

	h.svc.Wait()
	turns := h.log.all()
	require.Len(t, turns, 1)
	assert.Equal(t, recordedTurn{"T1", "s1", "What is the refund window?", answer}, turns[0])
	assert.Equal(t, []string{"T1"}, h.publisher.tenants)
}

func TestUningestedTenantFallsBack(t *testing.T) {
	h := newHarness(t, nil)

	answer := h.svc.Answer(context.Background(), "ghost", "Anyone there?", "s1")
	assert.Equal(t, rag.FallbackAnswer, answer)
	assert.Equal(t, 1, h.store.loadHits, "a miss should attempt one rebuild from stored source")
	assert.Equal(t, rag.StateAbsent, h.registry.State("ghost"))

	h.svc.Wait()
	assert.Len(t, h.log.all(), 1)
}

func TestMissRebuildsFromStoredSource(t *testing.T) {
	h := newHarness(t, nil, "T1")
	h.store.sources["T1"] = models.TrainingSource{ChatbotID: "T1", Text: "Gift cards never expire."}

	answer := h.svc.Answer(context.Background(), "T1", "Do gift cards expire?", "s1")
	assert.Contains(t, answer, "Gift cards never expire.")
	assert.Equal(t, rag.StateReady, h.registry.State("T1"))
}

func TestReingestReplacesOldText(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Our refund policy allows returns within 30 days."})
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, "T1", IngestSource{Text: "Store credit is issued for returned items. Refund requests go to support."})
	require.NoError(t, err)

	for _, q := range []string{"What is the refund window?", "refund policy 30 days", "returns"} {
		answer := h.svc.Answer(ctx, "T1", q, "s1")
		assert.NotContains(t, answer, "30 days", q)
	}

	chain, err := h.registry.Lookup("T1")
	require.NoError(t, err)
	scored, err := chain.Retriever.FetchScored(ctx, "refund policy allows returns within 30 days")
	require.NoError(t, err)
	for _, s := range scored {
		assert.NotContains(t, s.Passage.Text, "30 days")
	}
	assert.Equal(t, "Store credit is issued for returned items. Refund requests go to support.", h.store.sources["T1"].Text)
}

func TestGenerationFailureFallsBackWithoutSessionTurn(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Opening hours are nine to five."})
	require.NoError(t, err)

	h.model.err = errors.New("upstream 503")
	answer := h.svc.Answer(ctx, "T1", "When are you open?", "s1")
	assert.Equal(t, rag.FallbackAnswer, answer)

	history, err := h.sessions.History(ctx, rag.SessionKey("T1", "s1"))
	require.NoError(t, err)
	assert.Empty(t, history)

	h.svc.Wait()
	require.Len(t, h.log.all(), 1)
	assert.Equal(t, rag.FallbackAnswer, h.log.all()[0].answer)
}

func TestHistoryFeedsLaterPrompts(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Opening hours are nine to five."})
	require.NoError(t, err)

	h.svc.Answer(ctx, "T1", "When are you open?", "s1")
	h.svc.Answer(ctx, "T1", "And on weekends?", "s1")
	assert.Contains(t, h.model.lastPrompt(), "Chat History: User: When are you open?\nAssistant: Opening hours")

	h.svc.Answer(ctx, "T1", "Anything else?", "s2")
	assert.Contains(t, h.model.lastPrompt(), "Chat History: \n\n")

	for i := 0; i < 5; i++ {
		h.svc.Answer(ctx, "T1", "again", "s1")
	}
	history, err := h.sessions.History(ctx, rag.SessionKey("T1", "s1"))
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestConversationLogFailureDoesNotAffectAnswer(t *testing.T) {
	h := newHarness(t, nil, "T1")
	h.log.err = errors.New("mongo down")
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Opening hours are nine to five."})
	require.NoError(t, err)

	assert.Contains(t, h.svc.Answer(ctx, "T1", "hours?", "s1"), "nine to five")
	h.svc.Wait()
}

func TestAnswerEmptyQuestion(t *testing.T) {
	h := newHarness(t, nil, "T1")
	assert.Equal(t, rag.FallbackAnswer, h.svc.Answer(context.Background(), "T1", "   ", "s1"))
	assert.Zero(t, h.store.loadHits)
}

func TestIngestSources(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()

	res, err := h.svc.Ingest(ctx, "T1", IngestSource{URL: "https://acme.example/"})
	require.NoError(t, err)
	assert.Equal(t, models.SourceURL, res.SourceType)
	assert.Equal(t, "https://acme.example/", h.store.sources["T1"].SourceURL)
	assert.Contains(t, h.svc.Answer(ctx, "T1", "How fast do you ship?", "s"), "five business days")

	res, err = h.svc.Ingest(ctx, "T1", IngestSource{PDF: buildPDF("Warranty covers two years of normal use."), Filename: "warranty.pdf"})
	require.NoError(t, err)
	assert.Equal(t, models.SourcePDF, res.SourceType)
	assert.Equal(t, "warranty.pdf", h.store.sources["T1"].Filename)
	assert.Contains(t, h.svc.Answer(ctx, "T1", "warranty length?", "s"), "two years")
}

func TestIngestFailuresKeepPreviousIndex(t *testing.T) {
	h := newHarness(t, nil, "T1")
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, "T1", IngestSource{Text: "Original knowledge about returns."})
	require.NoError(t, err)
	before, err := h.registry.Lookup("T1")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   IngestSource
		want error
	}{
		{"nothing", IngestSource{}, ErrInvalidSource},
		{"two sources", IngestSource{Text: "a", URL: "https://acme.example/"}, ErrInvalidSource},
		{"blank text", IngestSource{Text: "   \n "}, rag.ErrEmptySource},
		{"scrape fails", IngestSource{URL: "https://offline.example/"}, rag.ErrSourceFetchFailed},
		{"bad pdf", IngestSource{PDF: []byte("nope")}, rag.ErrSourceFetchFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Ingest(ctx, "T1", tc.in)
			assert.ErrorIs(t, err, tc.want)

			after, err := h.registry.Lookup("T1")
			require.NoError(t, err)
			assert.Same(t, before, after)
		})
	}

	h.store.saveErr = errors.New("write conflict")
	_, err = h.svc.Ingest(ctx, "T1", IngestSource{Text: "New text that fails to persist."})
	require.Error(t, err)
	after, err := h.registry.Lookup("T1")
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, "Original knowledge about returns.", h.store.sources["T1"].Text)

	_, err = h.svc.Ingest(ctx, "unknown", IngestSource{Text: "text"})
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)
}

func TestIngestEmbeddingUnavailable(t *testing.T) {
	h := newHarness(t, failingEmbedder{ai.NewHashEmbedder(64)}, "T1")

	_, err := h.svc.Ingest(context.Background(), "T1", IngestSource{Text: "Some text."})
	assert.ErrorIs(t, err, rag.ErrEmbeddingUnavailable)
	assert.Equal(t, rag.StateAbsent, h.registry.State("T1"))
	assert.Empty(t, h.store.sources)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil, "T1")
	st := h.svc.Status("T1")
	assert.Equal(t, "absent", st.State)
	assert.Nil(t, st.BuiltAt)

	_, err := h.svc.Ingest(context.Background(), "T1", IngestSource{Text: "Some text."})
	require.NoError(t, err)
	st = h.svc.Status("T1")
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, 1, st.Passages)
	assert.NotNil(t, st.BuiltAt)
}

func TestRefreshURLSources(t *testing.T) {
	h := newHarness(t, nil, "T1", "T2")
	h.store.sources["T1"] = models.TrainingSource{ChatbotID: "T1", SourceType: models.SourceURL, SourceURL: "https://acme.example/", Text: "stale"}
	h.store.sources["T2"] = models.TrainingSource{ChatbotID: "T2", SourceType: models.SourceURL, SourceURL: "https://gone.example/", Text: "stale"}

	err := h.svc.RefreshURLSources(context.Background(), h.store)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrSourceFetchFailed)

	assert.Equal(t, "Acme ships worldwide within five business days.", h.store.sources["T1"].Text)
	assert.Equal(t, "stale", h.store.sources["T2"].Text)
	assert.Equal(t, rag.StateReady, h.registry.State("T1"))
}
