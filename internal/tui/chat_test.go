package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
	"document-qa/internal/rag"
	"document-qa/internal/session"
)

type fakeSession struct {
	source    string
	uploads   []string
	questions []string
	answer    *models.Answer
	askErr    error
	uploadErr error
}

func (f *fakeSession) Upload(_ context.Context, path string) (*rag.IngestReport, error) {
	f.uploads = append(f.uploads, path)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.source = "car.pdf"
	return &rag.IngestReport{Source: "car.pdf", Pages: 3, Chunks: 5}, nil
}

func (f *fakeSession) Ask(_ context.Context, q string) (*models.Answer, error) {
	f.questions = append(f.questions, q)
	if f.source == "" {
		return nil, models.ErrNoDocument
	}
	if f.askErr != nil {
		return nil, f.askErr
	}
	return f.answer, nil
}

func (f *fakeSession) Source() string { return f.source }

// enter types text and presses enter, then runs the resulting commands and feeds
// their messages back, the way the program loop would.
func enter(t *testing.T, m *chatModel, text string) tea.Cmd {
	t.Helper()
	m.input.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	drain(m, cmd)
	return cmd
}

func drain(m *chatModel, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			drain(m, c)
		}
	case uploadedMsg, answeredMsg:
		m.Update(msg)
	}
}

func TestAskBeforeUploadShowsGuidance(t *testing.T) {
	s := &fakeSession{}
	m := newChatModel(context.Background(), s)

	enter(t, m, "What is the runway length?")
	assert.Equal(t, []string{"What is the runway length?"}, s.questions)
	assert.Contains(t, m.status, "Please upload a PDF first.")
	assert.False(t, m.busy)
}

func TestUploadThenAsk(t *testing.T) {
	s := &fakeSession{answer: &models.Answer{
		Text:    "3000 meters",
		Sources: []models.SearchResult{{Chunk: models.Chunk{Source: "car.pdf", Page: 2}, Similarity: 0.9}},
	}}
	m := newChatModel(context.Background(), s)

	enter(t, m, "/upload  docs/car.pdf ")
	require.Equal(t, []string{"docs/car.pdf"}, s.uploads)
	assert.Contains(t, m.status, "Indexed car.pdf: 3 pages, 5 chunks")

	enter(t, m, "runway length?")
	require.Len(t, m.lines, 3)
	assert.Contains(t, m.lines[0], "runway length?")
	assert.Contains(t, m.lines[1], "3000 meters")
	assert.Contains(t, m.lines[2], "car.pdf p.2 (0.900)")
	assert.Contains(t, m.View(), "car.pdf")
}

func TestGenerationErrorIsShownAsFailure(t *testing.T) {
	s := &fakeSession{source: "car.pdf", askErr: models.ErrGenerationService}
	m := newChatModel(context.Background(), s)

	enter(t, m, "runway?")
	assert.Contains(t, m.status, "Error: generation service error")
}

func TestEmptyInputAndUsage(t *testing.T) {
	s := &fakeSession{}
	m := newChatModel(context.Background(), s)

	enter(t, m, "   ")
	assert.Contains(t, m.status, "Please enter a question.")
	assert.Empty(t, s.questions)

	enter(t, m, "/upload")
	assert.Contains(t, m.status, "Usage: /upload")
	assert.Empty(t, s.uploads)
}

func TestQuit(t *testing.T) {
	m := newChatModel(context.Background(), &fakeSession{})
	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestSentence(t *testing.T) {
	assert.Equal(t, "Please upload a PDF first.", sentence("please upload a PDF first"))
	assert.Equal(t, "", sentence(""))
	assert.Equal(t, "Done.", sentence("done."))
}

type readyIndex struct{}

func (readyIndex) Search(context.Context, []float32, int) ([]models.SearchResult, error) {
	return nil, nil
}

func (readyIndex) Count() int { return 1 }

func (readyIndex) Manifest() models.IndexManifest { return models.IndexManifest{Source: "car.pdf"} }

// heldPipeline blocks Ask until release is closed.
type heldPipeline struct {
	started chan struct{}
	release chan struct{}
}

func (p *heldPipeline) Ingest(context.Context, string) (rag.Index, *rag.IngestReport, error) {
	return readyIndex{}, &rag.IngestReport{Source: "car.pdf"}, nil
}

func (p *heldPipeline) Open(context.Context) (rag.Index, error) { return readyIndex{}, nil }

func (p *heldPipeline) Ask(_ context.Context, _ rag.Index, q string) (*models.Answer, error) {
	close(p.started)
	<-p.release
	return &models.Answer{Question: q, Text: "3000 meters"}, nil
}

func TestViewRendersWhileQuestionRuns(t *testing.T) {
	p := &heldPipeline{started: make(chan struct{}), release: make(chan struct{})}
	s, err := session.New(p)
	require.NoError(t, err)
	require.NoError(t, s.Resume(context.Background()))

	m := newChatModel(context.Background(), s)
	m.input.SetValue("runway length?")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)

	msgs := make(chan tea.Msg, len(batch))
	for _, c := range batch {
		go func(c tea.Cmd) { msgs <- c() }(c)
	}
	<-p.started

	rendered := make(chan string, 1)
	go func() { rendered <- m.View() }()
	select {
	case view := <-rendered:
		assert.Contains(t, view, "car.pdf")
		assert.Contains(t, view, "Thinking...")
	case <-time.After(2 * time.Second):
		t.Fatal("view blocked while the question was being answered")
	}
	assert.Equal(t, session.Answering, s.State())

	close(p.release)
	for range batch {
		if msg, ok := (<-msgs).(answeredMsg); ok {
			m.Update(msg)
		}
	}
	assert.False(t, m.busy)
	require.Len(t, m.lines, 2)
	assert.Contains(t, m.lines[1], "3000 meters")
}
