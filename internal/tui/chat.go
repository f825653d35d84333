// Package tui is the terminal chat front end of a session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"document-qa/internal/models"
	"document-qa/internal/rag"
)

const (
	keyCtrlC = "ctrl+c"
	keyEsc   = "esc"
	keyEnter = "enter"

	cmdUpload = "/upload"
	cmdQuit   = "/quit"

	defaultWidth  = 80
	defaultHeight = 20
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	sourceStyle    = lipgloss.NewStyle().Faint(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Session is what the chat needs from session.Session.
type Session interface {
	Upload(ctx context.Context, path string) (*rag.IngestReport, error)
	Ask(ctx context.Context, question string) (*models.Answer, error)
	Source() string
}

type uploadedMsg struct {
	report *rag.IngestReport
	err    error
}

type answeredMsg struct {
	answer *models.Answer
	err    error
}

type chatModel struct {
	ctx     context.Context
	session Session

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// source mirrors the session's document so rendering never calls into it
	source string
	lines  []string
	status string
	busy   bool
	width  int
}

func newChatModel(ctx context.Context, s Session) *chatModel {
	in := textinput.New()
	in.Placeholder = "Ask a question, /upload <file.pdf> or /quit"
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	m := &chatModel{
		ctx:      ctx,
		session:  s,
		input:    in,
		viewport: viewport.New(defaultWidth, defaultHeight),
		spinner:  sp,
		width:    defaultWidth,
	}
	m.source = s.Source()
	if m.source != "" {
		m.status = fmt.Sprintf("Using %s.", m.source)
	} else {
		m.status = "Upload a PDF to begin."
	}
	return m
}

// Run starts the chat and blocks until the user quits or ctx is done.
func Run(ctx context.Context, s Session) error {
	p := tea.NewProgram(newChatModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case keyCtrlC, keyEsc:
			return m, tea.Quit
		case keyEnter:
			return m.submit()
		}

	case uploadedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = statusFor(msg.err)
			return m, nil
		}
		m.source = msg.report.Source
		m.lines = nil
		m.status = fmt.Sprintf("Indexed %s: %d pages, %d chunks. Ask away.", msg.report.Source, msg.report.Pages, msg.report.Chunks)
		m.refresh()
		return m, nil

	case answeredMsg:
		m.busy = false
		if msg.err != nil {
			m.status = statusFor(msg.err)
			return m, nil
		}
		m.appendLine(assistantStyle.Render("Assistant: ") + msg.answer.Text)
		if src := msg.answer.SourceSummary(); src != "" {
			m.appendLine(sourceStyle.Render("Sources: " + src))
		}
		m.status = ""
		return m, nil

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")

	switch {
	case text == cmdQuit:
		return m, tea.Quit
	case text == cmdUpload || strings.HasPrefix(text, cmdUpload+" "):
		path := strings.TrimSpace(strings.TrimPrefix(text, cmdUpload))
		if path == "" {
			m.status = warnStyle.Render("Usage: /upload <file.pdf>")
			return m, nil
		}
		m.busy = true
		m.status = "Indexing " + path + "..."
		return m, tea.Batch(m.spinner.Tick, m.upload(path))
	case text == "":
		m.status = statusFor(models.ErrEmptyQuestion)
		return m, nil
	}

	m.appendLine(userStyle.Render("You: ") + text)
	m.busy = true
	m.status = "Thinking..."
	return m, tea.Batch(m.spinner.Tick, m.ask(text))
}

func (m *chatModel) upload(path string) tea.Cmd {
	return func() tea.Msg {
		report, err := m.session.Upload(m.ctx, path)
		return uploadedMsg{report: report, err: err}
	}
}

func (m *chatModel) ask(question string) tea.Cmd {
	return func() tea.Msg {
		answer, err := m.session.Ask(m.ctx, question)
		return answeredMsg{answer: answer, err: err}
	}
}

func (m *chatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *chatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 10))
	rendered := make([]string, len(m.lines))
	for i, l := range m.lines {
		rendered[i] = wrap.Render(l)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n\n"))
	m.viewport.GotoBottom()
}

func (m *chatModel) View() string {
	title := "Document Q&A"
	if m.source != "" {
		title += " · " + m.source
	}
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return strings.Join([]string{
		titleStyle.Render(title),
		m.viewport.View(),
		status,
		m.input.View(),
	}, "\n")
}

// statusFor shows precondition errors as guidance and everything else as a failure.
func statusFor(err error) string {
	if models.IsPrecondition(err) {
		return warnStyle.Render(sentence(err.Error()))
	}
	return errorStyle.Render("Error: " + err.Error())
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	out := string(r)
	if !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}
