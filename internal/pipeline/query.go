package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/errs"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
)

// State is a step of the per-question state machine.
type State string

const (
	StateReceived    State = "received"
	StateEmbedded    State = "embedded"
	StateRetrieved   State = "retrieved"
	StateReranked    State = "reranked"
	StateSynthesized State = "synthesized"
	StateResponded   State = "responded"
	StateFailed      State = "failed"
)

// Values of Answer.Degraded set by the orchestrator; the synthesizer adds its own.
const (
	DegradedEmbedding   = "embedding"
	DegradedVectorIndex = "vector_index"
	DegradedRerank      = "rerank"
)

// NoEvidenceAnswer is the answer text when nothing relevant was found.
const NoEvidenceAnswer = "I could not find relevant information in the document to answer this question."

// Run answers a batch of questions against one document, ingesting it first
// when it is not indexed. Answers come back in question order. An ingestion
// failure fails the whole batch; a failing question only fails its own answer.
func (o *Orchestrator) Run(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var hint models.Format
	if req.Format != "" {
		hint, _ = models.ParseFormat(strings.ToLower(req.Format))
	}

	docID := req.DocumentID
	var load loadFunc
	if req.Documents != "" {
		if docID == "" {
			docID = docid.FromSource(req.Documents)
		}
		load = o.sourceLoader(docID, req.Documents, hint)
	} else if !docid.IsID(docID) {
		docID = docid.FromSource(docID)
	}

	doc, err := o.ensureIndexed(ctx, docID, load, req.Reingest)
	if err != nil {
		o.logger.Warn("batch aborted: document could not be ingested",
			zap.String("doc_id", docID),
			zap.Int("questions", len(req.Questions)),
			zap.Error(err))
		return nil, err
	}

	answers := make([]models.Answer, len(req.Questions))
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, q := range req.Questions {
		i, q := i, q
		g.Go(func() error {
			answers[i] = o.answer(ctx, doc, i, q)
			o.logQuery(ctx, doc.ID, &answers[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return &models.QueryResponse{
		DocumentID:       doc.ID,
		Answers:          answers,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// Ask answers one question against a document that is already known. The
// document is re-indexed from its stored chunks or source when its indexes are
// stale. Failures are reported in Answer.Error.
func (o *Orchestrator) Ask(ctx context.Context, documentID, question string) models.Answer {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return failedAnswer(question, errs.E(errs.InvalidInput, "ask", "question is empty"), start)
	}
	if !docid.IsID(documentID) {
		documentID = docid.FromSource(documentID)
	}
	doc, err := o.ensureIndexed(ctx, documentID, nil, false)
	if err != nil {
		return failedAnswer(question, err, start)
	}
	a := o.answer(ctx, doc, 0, question)
	o.logQuery(ctx, doc.ID, &a)
	return a
}

// answer runs one question through retrieve, rerank and synthesize. It never
// fails; errors end up in Answer.Error.
func (o *Orchestrator) answer(ctx context.Context, doc *models.Document, idx int, question string) models.Answer {
	start := time.Now()
	if o.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
		defer cancel()
	}
	step := func(s State, fields ...zap.Field) {
		o.logger.Debug("question state",
			append([]zap.Field{
				zap.String("doc_id", doc.ID),
				zap.Int("question", idx),
				zap.String("state", string(s)),
				zap.Duration("elapsed", time.Since(start)),
			}, fields...)...)
	}
	fail := func(err error) models.Answer {
		step(StateFailed, zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
		return failedAnswer(question, err, start)
	}
	step(StateReceived)

	var degraded []string
	var (
		res *retrieval.Result
		err error
	)
	if o.vectorsCurrent(doc) {
		res, err = o.retriever.Retrieve(ctx, doc.ID, question, o.cfg.RetrieveK)
	} else {
		degraded = append(degraded, DegradedEmbedding)
		o.logger.Warn("document has no vectors, using keyword retrieval",
			zap.String("doc_id", doc.ID),
			zap.String("fallback", string(retrieval.ModeLexical)))
		res, err = o.retriever.RetrieveLexical(ctx, doc.ID, question, o.cfg.RetrieveK)
	}
	if err != nil {
		return fail(err)
	}
	if res.EmbedErr != nil {
		degraded = append(degraded, DegradedEmbedding)
		o.logger.Warn("query embedding failed, using keyword retrieval",
			zap.String("doc_id", doc.ID),
			zap.Int("question", idx),
			zap.String("fallback", string(res.Mode)),
			zap.Error(res.EmbedErr))
	} else if res.SearchErr != nil {
		degraded = append(degraded, DegradedVectorIndex)
		o.logger.Warn("vector search failed, using keyword retrieval",
			zap.String("doc_id", doc.ID),
			zap.Int("question", idx),
			zap.String("fallback", string(res.Mode)),
			zap.Error(res.SearchErr))
	} else if res.Mode != retrieval.ModeLexical {
		step(StateEmbedded)
	}
	step(StateRetrieved, zap.String("mode", string(res.Mode)), zap.Int("candidates", len(res.Candidates)))

	rr, err := o.reranker.Rerank(ctx, question, res.Candidates, 0)
	if err != nil {
		return fail(err)
	}
	if rr.Err != nil {
		degraded = append(degraded, DegradedRerank)
	}
	step(StateReranked, zap.String("strategy", rr.Strategy), zap.Int("passages", len(rr.Candidates)))

	ans, err := o.synth.Synthesize(ctx, question, rr.Candidates)
	if err != nil {
		return fail(err)
	}
	step(StateSynthesized, zap.String("strategy", ans.Strategy))

	ans.Question = question
	ans.Degraded = append(degraded, ans.Degraded...)
	ans.ProcessingTimeMS = time.Since(start).Milliseconds()
	step(StateResponded)
	return *ans
}

func failedAnswer(question string, err error, start time.Time) models.Answer {
	body := errs.ToBody(err)
	a := models.Answer{
		Question:         question,
		Evidence:         []models.Evidence{},
		Error:            body,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	if body.Kind == errs.NoEvidence {
		a.Answer = NoEvidenceAnswer
	} else {
		a.Answer = "The question could not be answered: " + body.Message
	}
	return a
}

// logQuery records an answered question. The record is written even when the
// caller has gone away; a failure to write it is only logged.
func (o *Orchestrator) logQuery(ctx context.Context, docID string, a *models.Answer) {
	entry := &models.QueryLog{
		ID:               uuid.NewString(),
		DocumentID:       docID,
		Question:         a.Question,
		Answer:           a.Answer,
		Decision:         a.Decision,
		Confidence:       a.Confidence,
		Strategy:         a.Strategy,
		ProcessingTimeMS: a.ProcessingTimeMS,
		CreatedAt:        time.Now().UTC(),
	}
	if a.Error != nil {
		entry.ErrorKind = string(a.Error.Kind)
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.LogQuery(lctx, entry); err != nil {
		o.logger.Warn("write query log", zap.String("doc_id", docID), zap.Error(err))
	}
}

// QueryLogs returns recent query records, newest first. An empty documentID
// returns records for every document.
func (o *Orchestrator) QueryLogs(ctx context.Context, documentID string, limit int) ([]*models.QueryLog, error) {
	if documentID != "" && !docid.IsID(documentID) {
		documentID = docid.FromSource(documentID)
	}
	logs, err := o.store.ListQueryLogs(ctx, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	return logs, nil
}
