package pipeline

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synth"
	"github.com/hyperjump/kotae/internal/testutil"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	dims      = 128
	policyURL = "https://example.com/policy.txt"
	// PolicyText chunks into seven chunks at size 300, overlap 50.
	policyChunks = 7
)

// stubFetcher serves in-memory documents and counts fetches per reference.
type stubFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	calls map[string]int
	delay time.Duration
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		docs:  map[string][]byte{policyURL: testutil.PolicyText()},
		calls: map[string]int{},
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, ref string) (*ingest.Source, error) {
	f.mu.Lock()
	f.calls[ref]++
	data, ok := f.docs[ref]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errs.E(errs.SourceUnavailable, "fetch", "GET %s: 404 Not Found", ref)
	}
	return &ingest.Source{Ref: ref, Name: path.Base(ref), ContentType: "text/plain", Data: data}, nil
}

func (f *stubFetcher) count(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

// flakyEmbedder fails while down is set.
type flakyEmbedder struct {
	*embedding.HashEmbedder
	down atomic.Bool
}

func (e *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.down.Load() {
		return nil, errs.E(errs.EmbeddingUnavailable, "embed", "model server offline")
	}
	return e.HashEmbedder.Embed(ctx, text)
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.down.Load() {
		return nil, errs.E(errs.EmbeddingUnavailable, "embed", "model server offline")
	}
	return e.HashEmbedder.EmbedBatch(ctx, texts)
}

// pickySynth fails questions containing failOn and delegates the rest.
type pickySynth struct {
	*synth.Synthesizer
	failOn string
}

func (p *pickySynth) Synthesize(ctx context.Context, q string, passages []models.Candidate) (*models.Answer, error) {
	if strings.Contains(q, p.failOn) {
		return nil, errs.E(errs.NoEvidence, "synthesize", "no passage answers the question")
	}
	return p.Synthesizer.Synthesize(ctx, q, passages)
}

type harness struct {
	orch     *Orchestrator
	fetcher  *stubFetcher
	embedder *flakyEmbedder
	store    storage.Storage
	vectors  *vector.MemoryIndex
	keywords *keyword.BleveIndex
	gen      *llm.Fake
	synth    *synth.Synthesizer
}

type harnessOption func(*harness, *Deps)

func withSynth(wrap func(*synth.Synthesizer) Synthesizer) harnessOption {
	return func(h *harness, d *Deps) { d.Synth = wrap(h.synth) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		fetcher:  newStubFetcher(),
		embedder: &flakyEmbedder{HashEmbedder: embedding.NewHashEmbedder(dims)},
		store:    storage.NewMemoryStorage(),
		gen:      &llm.Fake{},
	}
	var err error
	h.vectors, err = vector.NewMemoryIndex(dims, h.embedder.Model(), "")
	require.NoError(t, err)
	h.keywords, err = keyword.NewBleveIndex("")
	require.NoError(t, err)

	guard := embedding.NewGuard(h.embedder, time.Second, 16)
	rr, err := rerank.NewFromConfig(config.RerankConfig{
		Provider:         "lexical",
		TopK:             5,
		Timeout:          time.Second,
		SimilarityWeight: 0.3,
		CrossWeight:      0.7,
	}, h.keywords, nil)
	require.NoError(t, err)
	h.synth = synth.New(nil, config.LLMConfig{})

	deps := Deps{
		Store:    h.store,
		Ingestor: ingest.NewIngestor(h.fetcher, extract.NewExtractor(), ingest.NewChunker(300, 50, 20)),
		Embedder: guard,
		Vectors:  h.vectors,
		Keywords: h.keywords,
		Reranker: rr,
		Synth:    h.synth,
	}
	for _, o := range opts {
		o(h, &deps)
	}
	h.orch, err = New(deps, Config{
		Retrieval:      retrieval.Config{Hybrid: true, SemanticWeight: 0.7, KeywordWeight: 0.3, PhraseBoost: 1.5},
		RetrieveK:      10,
		MaxConcurrency: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.orch.Close() })
	return h
}

// withGenerator answers through h.gen with a short timeout.
func withGenerator() harnessOption {
	return func(h *harness, d *Deps) {
		h.synth = synth.New(h.gen, config.LLMConfig{Timeout: 50 * time.Millisecond, Cooldown: time.Minute})
		d.Synth = h.synth
	}
}

func TestRun_AnswersInOrder(t *testing.T) {
	h := newHarness(t)
	questions := []string{
		"What is the grace period for premium payment?",
		"Are cosmetic procedures excluded from this policy?",
		"Is room rent capped?",
	}

	resp, err := h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL, Questions: questions})
	require.NoError(t, err)
	require.Len(t, resp.Answers, len(questions))
	for i, a := range resp.Answers {
		assert.Equal(t, questions[i], a.Question)
		assert.NotEmpty(t, a.Answer)
		assert.Nil(t, a.Error)
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)
		assert.Equal(t, synth.StrategyExtractive, a.Strategy)
		assert.NotEmpty(t, a.Evidence)
	}
	assert.Contains(t, resp.Answers[0].Answer, testutil.GraceSentence)
	assert.Equal(t, []string{resp.Answers[0].Answer, resp.Answers[1].Answer, resp.Answers[2].Answer}, resp.AnswerTexts())

	doc, err := h.orch.GetDocument(context.Background(), policyURL)
	require.NoError(t, err)
	assert.Equal(t, resp.DocumentID, doc.ID)
	assert.Equal(t, models.StatusIndexed, doc.Status)
	assert.Equal(t, policyChunks, doc.ChunkCount)
	assert.Equal(t, h.embedder.Model(), doc.ModelVersion)

	logs, err := h.orch.QueryLogs(context.Background(), doc.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, len(questions))
}

func TestRun_ConcurrentRequestsIngestOnce(t *testing.T) {
	h := newHarness(t)
	h.fetcher.delay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.orch.Run(context.Background(), &models.QueryRequest{
				Documents: policyURL,
				Questions: []string{testutil.GraceQuery},
			})
			if err == nil && len(resp.Answers) != 1 {
				err = errs.E(errs.Internal, "test", "got %d answers", len(resp.Answers))
			}
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, h.fetcher.count(policyURL))
	id := resolveID(policyURL)
	assert.Equal(t, policyChunks, h.vectors.Count(id))
	n, err := h.keywords.Count(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, policyChunks, n)
}

func TestRun_ReingestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := func(reingest bool) *models.QueryRequest {
		return &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}, Reingest: reingest}
	}

	first, err := h.orch.Run(ctx, req(false))
	require.NoError(t, err)
	_, err = h.orch.Run(ctx, req(false))
	require.NoError(t, err)
	assert.Equal(t, 1, h.fetcher.count(policyURL), "indexed document is not fetched again")

	second, err := h.orch.Run(ctx, req(true))
	require.NoError(t, err)
	assert.Equal(t, 2, h.fetcher.count(policyURL))
	assert.Equal(t, first.AnswerTexts(), second.AnswerTexts())

	id := resolveID(policyURL)
	chunks, err := h.orch.DocumentChunks(ctx, id)
	require.NoError(t, err)
	assert.Len(t, chunks, policyChunks)
	assert.Equal(t, policyChunks, h.vectors.Count(id))
	assert.Equal(t, policyChunks, h.vectors.Size())
}

func TestRun_UnknownDocumentAbortsBatch(t *testing.T) {
	h := newHarness(t)

	resp, err := h.orch.Run(context.Background(), &models.QueryRequest{
		Documents: "https://example.com/missing.pdf",
		Questions: []string{"q1", "q2"},
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errs.IsKind(err, errs.SourceUnavailable), "kind = %s", errs.KindOf(err))

	docs, err := h.orch.ListDocuments(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL})
	assert.True(t, errs.IsKind(err, errs.InvalidInput))
}

func TestRun_QuestionErrorsAreIsolated(t *testing.T) {
	h := newHarness(t, withSynth(func(s *synth.Synthesizer) Synthesizer {
		return &pickySynth{Synthesizer: s, failOn: "helicopter"}
	}))
	questions := []string{testutil.GraceQuery, "Is helicopter ambulance covered?", "Is room rent capped?"}

	resp, err := h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL, Questions: questions})
	require.NoError(t, err)
	require.Len(t, resp.Answers, 3)

	failed := resp.Answers[1]
	require.NotNil(t, failed.Error)
	assert.Equal(t, errs.NoEvidence, failed.Error.Kind)
	assert.Equal(t, NoEvidenceAnswer, failed.Answer)
	assert.Equal(t, questions[1], failed.Question)

	for _, i := range []int{0, 2} {
		assert.Nil(t, resp.Answers[i].Error)
		assert.NotEmpty(t, resp.Answers[i].Evidence)
	}
}

func TestRun_BlockingGeneratorFallsBack(t *testing.T) {
	h := newHarness(t, withGenerator())
	h.gen.Set("", nil, true)

	resp, err := h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	a := resp.Answers[0]
	assert.Nil(t, a.Error)
	assert.Equal(t, synth.StrategyExtractive, a.Strategy)
	assert.Contains(t, a.Degraded, synth.DegradedGeneration)
	assert.Contains(t, a.Answer, testutil.GraceSentence)

	// the generator is cooling down, so the next answer is extractive too
	health := h.orch.Health(context.Background())
	assert.Equal(t, synth.StrategyExtractive, health.Mode)
	assert.Len(t, h.gen.Prompts(), 1)

	resp, err = h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	assert.Contains(t, resp.Answers[0].Degraded, synth.DegradedGeneration)
	assert.Len(t, h.gen.Prompts(), 1)
}

func TestRun_GenerativeAnswer(t *testing.T) {
	h := newHarness(t, withGenerator())
	h.gen.Set(`{"answer": "Premiums may be paid up to thirty days late.", "decision": "yes", "confidence": 0.9}`, nil, false)

	resp, err := h.orch.Run(context.Background(), &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	a := resp.Answers[0]
	assert.Equal(t, synth.StrategyGenerative, a.Strategy)
	assert.Equal(t, "Yes", a.Decision)
	assert.InDelta(t, 0.9, a.Confidence, 1e-9)
	require.NotNil(t, a.Rationale)
	joined := strings.Join(a.Rationale.SupportingClauses, "\n")
	assert.Contains(t, joined, "thirty days")
	assert.Empty(t, a.Degraded)
}

func TestRun_EmbeddingOutageUsesKeywordIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.embedder.down.Store(true)

	resp, err := h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	a := resp.Answers[0]
	assert.Nil(t, a.Error)
	assert.Contains(t, a.Degraded, DegradedEmbedding)
	assert.Contains(t, a.Answer, testutil.GraceSentence)

	doc, err := h.orch.GetDocument(ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsed, doc.Status)
	assert.Zero(t, h.vectors.Count(doc.ID))

	health := h.orch.Health(ctx)
	assert.Equal(t, "degraded", health.Status)

	// Recovery is noticed by the next successful embedding call.
	h.embedder.down.Store(false)
	health = h.orch.Probe(ctx)
	assert.Equal(t, "ok", health.Status)

	resp, err = h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	assert.Empty(t, resp.Answers[0].Degraded)
	assert.Equal(t, 1, h.fetcher.count(policyURL), "vectors are rebuilt from stored chunks")
	assert.Equal(t, policyChunks, h.vectors.Count(doc.ID))
}

// searchOutage fails vector searches while down is set.
type searchOutage struct {
	vector.Index
	down atomic.Bool
}

func (s *searchOutage) Search(ctx context.Context, q []float32, k int, opts ...vector.SearchOption) ([]vector.Hit, error) {
	if s.down.Load() {
		return nil, errs.E(errs.Internal, "vector search", "index unreadable")
	}
	return s.Index.Search(ctx, q, k, opts...)
}

func TestRun_VectorSearchFailureUsesKeywordIndex(t *testing.T) {
	outage := &searchOutage{}
	h := newHarness(t, func(h *harness, d *Deps) {
		outage.Index = h.vectors
		d.Vectors = outage
	})
	ctx := context.Background()

	_, err := h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)

	outage.down.Store(true)
	resp, err := h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)
	a := resp.Answers[0]
	assert.Nil(t, a.Error)
	assert.Contains(t, a.Degraded, DegradedVectorIndex)
	assert.NotContains(t, a.Degraded, DegradedEmbedding)
	assert.Contains(t, a.Answer, testutil.GraceSentence)
}

func TestRun_StaleModelReembedsFromChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.NoError(t, err)

	// As after a restart with a different model: the index was reset and the
	// registry still names the old model.
	require.NoError(t, h.vectors.Reset(ctx))
	doc, err := h.store.GetDocument(ctx, resp.DocumentID)
	require.NoError(t, err)
	doc.ModelVersion = "hash-64"
	require.NoError(t, h.store.SaveDocument(ctx, doc))

	a := h.orch.Ask(ctx, resp.DocumentID, testutil.GraceQuery)
	assert.Nil(t, a.Error)
	assert.Contains(t, a.Answer, testutil.GraceSentence)
	assert.Equal(t, 1, h.fetcher.count(policyURL))
	assert.Equal(t, policyChunks, h.vectors.Count(resp.DocumentID))

	doc, err = h.store.GetDocument(ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, h.embedder.Model(), doc.ModelVersion)
}

func TestRun_CallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.fetcher.delay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.orch.Run(ctx, &models.QueryRequest{Documents: policyURL, Questions: []string{testutil.GraceQuery}})
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))

	// the shared ingestion carries on without the caller
	id := resolveID(policyURL)
	assert.Eventually(t, func() bool {
		doc, err := h.store.GetDocument(context.Background(), id)
		return err == nil && doc.Status == models.StatusIndexed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsk_UnknownDocument(t *testing.T) {
	h := newHarness(t)
	a := h.orch.Ask(context.Background(), "doc:0123456789abcdef", "anything")
	require.NotNil(t, a.Error)
	assert.Equal(t, errs.NotFound, a.Error.Kind)
}

func TestRemoveDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.orch.AddDocument(ctx, policyURL, "", false)
	require.NoError(t, err)
	require.Equal(t, models.StatusIndexed, doc.Status)

	require.NoError(t, h.orch.RemoveDocument(ctx, doc.ID))

	hits, err := h.vectors.Search(ctx, make([]float32, dims), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	kw, err := h.keywords.Search(ctx, testutil.GraceQuery, 10, &keyword.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, kw)
	_, err = h.orch.GetDocument(ctx, doc.ID)
	assert.True(t, errs.IsKind(err, errs.NotFound))

	assert.True(t, errs.IsKind(h.orch.RemoveDocument(ctx, doc.ID), errs.NotFound))
}

func TestAddDocumentBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := testutil.PolicyText()

	doc, err := h.orch.AddDocumentBytes(ctx, "policy.txt", data, "", false)
	require.NoError(t, err)
	again, err := h.orch.AddDocumentBytes(ctx, "renamed.txt", data, "", false)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, originUpload, again.Metadata[metaOrigin])
	assert.Equal(t, policyChunks, h.vectors.Size())

	_, err = h.orch.AddDocumentBytes(ctx, "empty.txt", nil, "", false)
	assert.True(t, errs.IsKind(err, errs.InvalidInput))
}

func TestIndexFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	p := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(p, testutil.PolicyText(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.bin"), []byte{0, 1, 2}, 0o644))

	n, err := h.orch.IndexDirectory(ctx, dir, []string{".txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := h.orch.GetDocument(ctx, FileDocID(p))
	require.NoError(t, err)
	assert.Equal(t, p, doc.Source)
	first := doc.UpdatedAt

	// unchanged file is not re-ingested
	doc, err = h.orch.IndexFile(ctx, p, nil)
	require.NoError(t, err)
	assert.Equal(t, first, doc.UpdatedAt)

	_, err = h.orch.IndexFile(ctx, filepath.Join(dir, "notes.bin"), []string{"txt"})
	assert.True(t, errs.IsKind(err, errs.UnsupportedFormat))

	require.NoError(t, h.orch.RemoveFile(ctx, p))
	assert.Zero(t, h.vectors.Count(FileDocID(p)))
}

func TestHealthAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.AddDocument(ctx, policyURL, "", false)
	require.NoError(t, err)

	health := h.orch.Health(ctx)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "extractive", health.Mode)
	assert.Equal(t, 1, health.Documents)
	assert.Equal(t, policyChunks, health.Chunks)
	names := make([]string, len(health.Components))
	for i, c := range health.Components {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"embedding", "vector_index", "keyword_index", "reranker", "synthesizer"}, names)

	stats, err := h.orch.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Documents)
	assert.EqualValues(t, policyChunks, stats.Chunks)
	assert.Equal(t, policyChunks, stats.IndexSize)
	assert.Equal(t, "memory", stats.IndexType)
	assert.Equal(t, dims, stats.Dimensions)
}

func TestDocLocks(t *testing.T) {
	d := newDocLocks()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := d.lock("a")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak)
	assert.Empty(t, d.locks)
}
