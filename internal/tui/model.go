package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"smartdocq/internal/service"
)

// AnswerPort is the TUI-facing subset of the document service.
type AnswerPort interface {
	Answer(ctx context.Context, question, documentScope, ownerScope string) (*service.AnswerResult, error)
}

type answerMsg struct {
	question string
	result   *service.AnswerResult
	err      error
}

// Model is the Bubble Tea model for the question-answering chat.
type Model struct {
	service  AnswerPort
	docScope string
	input    textinput.Model
	viewport viewport.Model
	status   string
	history  []string
	waiting  bool
	ready    bool
}

// New creates a chat model. A non-empty docScope restricts every question
// to that document.
func New(svc AnswerPort, docScope string) Model {
	ti := textinput.New()
	ti.Prompt = "? "
	ti.Placeholder = "Ask a question about your documents"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: svc, docScope: docScope, input: ti, viewport: vp, status: "Ready. Type a question and press Enter."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := questionBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, question box, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-ah)
		m.viewport.SetContent(m.transcript())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "up":
			m.viewport.LineUp(1)
			return m, nil
		case "down":
			m.viewport.LineDown(1)
			return m, nil
		}
	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.history = append(m.history, renderExchange(msg.question, msg.result))
			m.status = fmt.Sprintf("Answered with %d citations", len(msg.result.Citations))
			if msg.result.Degraded {
				m.status += " (degraded)"
			}
		}
		m.viewport.SetContent(m.transcript())
		m.viewport.GotoBottom()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		res, err := m.service.Answer(ctx, question, m.docScope, "")
		return answerMsg{question: question, result: res, err: err}
	}
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("SmartDocQ")
	answers := answerBoxStyle.Render(m.viewport.View())
	input := questionBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + answers + "\n" + input + "\n" + status
}

func (m Model) transcript() string {
	if len(m.history) == 0 {
		return "No questions yet."
	}
	return strings.Join(m.history, "\n\n")
}

func renderExchange(question string, res *service.AnswerResult) string {
	var b strings.Builder
	b.WriteString(questionStyle.Render("? " + question))
	b.WriteString("\n")
	b.WriteString(res.Answer)
	if len(res.Citations) > 0 {
		b.WriteString("\n")
		for i, cit := range res.Citations {
			b.WriteString(citationStyle.Render(fmt.Sprintf("[%d] %s (chunk %d, similarity %.2f)",
				i+1, cit.Filename, cit.ChunkOrdinal, cit.SimilarityScore)))
			if i < len(res.Citations)-1 {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

var (
	answerBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	citationStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
