package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/chromemdb"
	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/testutil"
)

type harness struct {
	client    *testutil.KeywordEmbedder
	llm       *testutil.FakeLLM
	pipeline  *rag.Pipeline
	uploadDir string
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.IndexDir = filepath.Join(dir, "index")

	client := testutil.NewKeywordEmbedder()
	e, err := embedding.Wrap(client, "test:keywords")
	require.NoError(t, err)
	ch, err := chunker.New(chunker.DefaultSettings())
	require.NoError(t, err)
	llm := testutil.NewFakeLLM("3000 meters")

	return &harness{
		client:    client,
		llm:       llm,
		pipeline:  rag.NewPipeline(parser.FileLoader{}, ch, e, chromemdb.NewStore(cfg, e), rag.NewComposer(llm), cfg.RAG.TopK),
		uploadDir: filepath.Join(dir, "pdfs"),
		dir:       dir,
	}
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s, err := New(h.pipeline, WithUploadDir(h.uploadDir))
	require.NoError(t, err)
	return s
}

func (h *harness) pdf(t *testing.T, name string, pages ...string) string {
	return testutil.WritePDF(t, h.dir, name, pages)
}

func TestAskWithoutDocumentMakesNoCalls(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	_, err := s.Ask(context.Background(), "What is the runway length?")
	assert.ErrorIs(t, err, models.ErrNoDocument)
	assert.True(t, models.IsPrecondition(err))
	assert.Equal(t, "please upload a PDF first", err.Error())

	assert.Zero(t, h.client.Calls())
	assert.Empty(t, h.llm.Prompts())
	assert.Empty(t, s.History())
	assert.Equal(t, Idle, s.State())
}

func TestAskEmptyQuestion(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	_, err := s.Ask(context.Background(), " \t ")
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)
	assert.Zero(t, h.client.Calls())
}

func TestUploadThenAsk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.session(t)

	report, err := s.Upload(ctx, h.pdf(t, "car.pdf", "Pilot license rules.", "The runway length is 3000 meters."))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, "car.pdf", s.Source())
	assert.FileExists(t, filepath.Join(h.uploadDir, "car.pdf"))

	answer, err := s.Ask(ctx, "What is the runway length?")
	require.NoError(t, err)
	assert.Equal(t, "3000 meters", answer.Text)
	assert.Equal(t, 2, answer.Sources[0].Chunk.Page)
	assert.Equal(t, Ready, s.State())

	assert.Equal(t, []models.Message{
		{Role: models.RoleUser, Content: "What is the runway length?"},
		{Role: models.RoleAssistant, Content: "3000 meters"},
	}, s.History())
}

func TestFailedAnswerLeavesHistoryUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.session(t)
	_, err := s.Upload(ctx, h.pdf(t, "car.pdf", "Fuel reserve is 30 minutes."))
	require.NoError(t, err)

	h.llm.Err = testutil.ErrFakeLLM
	_, err = s.Ask(ctx, "fuel reserve?")
	assert.ErrorIs(t, err, models.ErrGenerationService)
	assert.False(t, models.IsPrecondition(err))
	assert.Empty(t, s.History())
	assert.Equal(t, Ready, s.State())
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	path := filepath.Join(h.dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("cabin crew"), 0o644))

	_, err := s.Upload(context.Background(), path)
	assert.ErrorIs(t, err, models.ErrUnsupportedUpload)
	assert.True(t, models.IsPrecondition(err))
	assert.Equal(t, Idle, s.State())
	assert.NoFileExists(t, filepath.Join(h.uploadDir, "notes.txt"))
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	_, err := s.Upload(context.Background(), filepath.Join(h.dir, "missing.pdf"))
	assert.ErrorIs(t, err, models.ErrLoad)
	assert.Equal(t, Idle, s.State())
}

func TestFailedUploadKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.session(t)
	_, err := s.Upload(ctx, h.pdf(t, "car.pdf", "The runway length is 3000 meters."))
	require.NoError(t, err)

	h.client.Err = errors.New("service unavailable")
	_, err = s.Upload(ctx, h.pdf(t, "other.pdf", "Maintenance records."))
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, "car.pdf", s.Source())

	h.client.Err = nil
	answer, err := s.Ask(ctx, "runway length?")
	require.NoError(t, err)
	assert.Equal(t, "car.pdf", answer.Sources[0].Chunk.Source)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	fresh := h.session(t)
	err := fresh.Resume(ctx)
	assert.ErrorIs(t, err, models.ErrIndexNotFound)
	assert.Equal(t, Idle, fresh.State())

	_, err = fresh.Upload(ctx, h.pdf(t, "car.pdf", "The runway length is 3000 meters."))
	require.NoError(t, err)

	resumed := h.session(t)
	require.NoError(t, resumed.Resume(ctx))
	assert.Equal(t, Ready, resumed.State())
	assert.Equal(t, "car.pdf", resumed.Source())
	assert.NotEqual(t, fresh.ID(), resumed.ID())

	answer, err := resumed.Ask(ctx, "runway length?")
	require.NoError(t, err)
	assert.Equal(t, 1, answer.Sources[0].Chunk.Page)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "answering", Answering.String())
	assert.Equal(t, "state(9)", State(9).String())
}

type stubIndex struct{ source string }

func (i stubIndex) Search(context.Context, []float32, int) ([]models.SearchResult, error) {
	return nil, nil
}

func (i stubIndex) Count() int { return 1 }

func (i stubIndex) Manifest() models.IndexManifest { return models.IndexManifest{Source: i.source} }

// gatedPipeline answers only after release is closed.
type gatedPipeline struct {
	started chan struct{}
	release chan struct{}
}

func newGatedPipeline() *gatedPipeline {
	return &gatedPipeline{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (p *gatedPipeline) Ingest(context.Context, string) (rag.Index, *rag.IngestReport, error) {
	return stubIndex{source: "car.pdf"}, &rag.IngestReport{Source: "car.pdf"}, nil
}

func (p *gatedPipeline) Open(context.Context) (rag.Index, error) {
	return stubIndex{source: "car.pdf"}, nil
}

func (p *gatedPipeline) Ask(ctx context.Context, _ rag.Index, q string) (*models.Answer, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return &models.Answer{Question: q, Text: "3000 meters"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAccessorsDoNotWaitForRunningQuestion(t *testing.T) {
	p := newGatedPipeline()
	s, err := New(p)
	require.NoError(t, err)
	require.NoError(t, s.Resume(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "runway length?")
		done <- err
	}()
	<-p.started

	assert.Equal(t, Answering, s.State())
	assert.Equal(t, "car.pdf", s.Source())
	assert.Empty(t, s.History())

	close(p.release)
	require.NoError(t, <-done)
	assert.Equal(t, Ready, s.State())
	assert.Len(t, s.History(), 2)
}
