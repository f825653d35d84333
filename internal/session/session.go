// Package session tracks one user's document and conversation.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

type State int

const (
	Idle State = iota
	DocumentLoaded
	Ready
	Answering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DocumentLoaded:
		return "document loaded"
	case Ready:
		return "ready"
	case Answering:
		return "answering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pipeline is the part of rag.Pipeline a session drives.
type Pipeline interface {
	Ingest(ctx context.Context, path string) (rag.Index, *rag.IngestReport, error)
	Ask(ctx context.Context, index rag.Index, query string) (*models.Answer, error)
	Open(ctx context.Context) (rag.Index, error)
}

// Session owns an index handle and the conversation history. Upload, Resume and
// Ask run one at a time; the accessors never wait for a running request.
type Session struct {
	id        string
	pipeline  Pipeline
	uploadDir string

	// opMu serialises requests and is held across service calls.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	index   rag.Index
	source  string
	history []models.Message
}

type Option func(*Session)

// WithUploadDir sets where uploaded documents are copied. Empty disables copying.
func WithUploadDir(dir string) Option {
	return func(s *Session) { s.uploadDir = dir }
}

func New(pipeline Pipeline, opts ...Option) (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	s := &Session{id: id, pipeline: pipeline, state: Idle}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Source is the file name of the indexed document, or "".
func (s *Session) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.history...)
}

// Upload copies a PDF into the upload directory and indexes it. On failure the
// session keeps its previous index and state.
func (s *Session) Upload(ctx context.Context, path string) (*rag.IngestReport, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, models.ErrNoDocument
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedUpload, filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", models.ErrLoad, path)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	target := path
	if s.uploadDir != "" {
		target, err = helper.CopyFile(path, s.uploadDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
		}
	}

	previous := s.setState(DocumentLoaded)
	index, report, err := s.pipeline.Ingest(ctx, target)
	if err != nil {
		s.setState(previous)
		log.Error().Err(err).Str("session", s.id).Str("file", target).Msg("upload failed")
		return nil, err
	}

	s.mu.Lock()
	s.index = index
	s.source = report.Source
	s.history = nil
	s.state = Ready
	s.mu.Unlock()
	log.Info().Str("session", s.id).Str("source", report.Source).Int("chunks", report.Chunks).Msg("document ready")
	return report, nil
}

// Resume adopts the persisted index, if any.
func (s *Session) Resume(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	index, err := s.pipeline.Open(ctx)
	if err != nil {
		return err
	}
	source := index.Manifest().Source

	s.mu.Lock()
	s.index = index
	s.source = source
	s.state = Ready
	s.mu.Unlock()
	log.Info().Str("session", s.id).Str("source", source).Int("chunks", index.Count()).Msg("resumed persisted index")
	return nil
}

// Ask answers a question about the current document. Messages are added to the
// history only when an answer was produced.
func (s *Session) Ask(ctx context.Context, question string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.ErrEmptyQuestion
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	index := s.index
	if index != nil {
		s.state = Answering
	}
	s.mu.Unlock()
	if index == nil {
		return nil, models.ErrNoDocument
	}

	answer, err := s.pipeline.Ask(ctx, index, question)
	if err != nil {
		s.setState(Ready)
		log.Error().Err(err).Str("session", s.id).Msg("question failed")
		return nil, err
	}

	s.mu.Lock()
	s.history = append(s.history,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: answer.Text},
	)
	s.state = Ready
	s.mu.Unlock()
	return answer, nil
}

// setState swaps the state and returns the previous one.
func (s *Session) setState(st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = st
	return prev
}
