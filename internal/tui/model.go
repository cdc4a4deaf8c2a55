package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/generation"
	"transcript-rag/internal/service"
)

// AskPort is the TUI-facing subset of the RAG service.
type AskPort interface {
	Ask(ctx context.Context, req service.AskRequest) <-chan service.Event
}

type eventMsg struct{ ev service.Event }

type streamDoneMsg struct{}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  AskPort
	corpusID string
	title    string
	summary  string
	input    textinput.Model
	viewport viewport.Model
	status   string
	ready    bool

	history   []domain.Turn
	pending   string
	answer    string
	streaming bool
	cancel    context.CancelFunc
	events    <-chan service.Event

	sources   []service.Source
	cursor    int
	lastQuery string
}

// New creates a chat model for corpusID. summary is shown under the title.
func New(svc AskPort, corpusID, title, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the transcript and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:  svc,
		corpusID: corpusID,
		title:    title,
		summary:  summary,
		input:    ti,
		viewport: vp,
		status:   "Ready. Enter asks, Esc stops an answer, Up/Down browse sources.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func waitForEvent(ch <-chan service.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamDoneMsg{}
		}
		return eventMsg{ev: ev}
	}
}

// Update handles key, window and answer stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around conversation and query boxes
		_, ch := conversationBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-ch)
		m.refresh()
		return m, nil
	case eventMsg:
		m.handleEvent(msg.ev)
		m.refresh()
		return m, waitForEvent(m.events)
	case streamDoneMsg:
		m.finishStream()
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.streaming {
				return m, nil
			}
			return m.ask(q)
		case "esc":
			if m.streaming && m.cancel != nil {
				m.cancel()
				m.status = "Stopping..."
			}
			return m, nil
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				m.refresh()
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.streaming = true
	m.pending = q
	m.lastQuery = q
	m.answer = ""
	m.input.SetValue("")
	m.status = "Embedding question..."
	m.events = m.service.Ask(ctx, service.AskRequest{
		CorpusID: m.corpusID,
		Question: q,
		History:  append([]domain.Turn(nil), m.history...),
	})
	m.refresh()
	return m, waitForEvent(m.events)
}

func (m *Model) handleEvent(ev service.Event) {
	switch ev := ev.(type) {
	case *service.ProgressEvent:
		switch {
		case ev.Stage == service.StageGenerate:
			m.answer += ev.Token
			m.status = "Answering..."
		case ev.Stage == service.StageSearch && ev.Status == service.StatusSkipped:
			m.status = "Small talk, search skipped."
		case ev.Stage == service.StageSearch:
			m.status = fmt.Sprintf("Found %d passages, %d relevant.", ev.MatchCount, ev.RelevantCount)
		default:
			m.status = "Embedding question..."
		}
	case *service.CompleteEvent:
		m.history = append(m.history,
			domain.Turn{Role: domain.RoleUser, Content: m.pending},
			domain.Turn{Role: domain.RoleAssistant, Content: ev.Answer})
		m.sources = ev.Sources
		m.cursor = 0
		m.answer = ""
		m.pending = ""
		p := ev.Performance
		m.status = fmt.Sprintf("Done in %dms, %d tokens, %.1f tok/s.", p.DurationMs, p.OutputTokens, p.TokensPerSecond)
	case *service.FailedEvent:
		m.answer = ""
		m.pending = ""
		if ev.Kind == domain.KindCancelled {
			m.status = "Answer stopped."
		} else {
			m.status = fmt.Sprintf("Error (%s): %s", ev.Kind, ev.Message)
		}
	}
}

func (m *Model) finishStream() {
	m.streaming = false
	m.events = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	conversation := conversationBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + conversation + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m Model) renderConversation() string {
	var parts []string
	for _, t := range m.history {
		if t.Role == domain.RoleUser {
			parts = append(parts, userStyle.Render("You: ")+t.Content)
		} else {
			parts = append(parts, assistantStyle.Render("Assistant: ")+t.Content)
		}
	}
	if m.pending != "" {
		parts = append(parts, userStyle.Render("You: ")+m.pending)
		parts = append(parts, assistantStyle.Render("Assistant: ")+m.answer)
	}
	if len(m.sources) > 0 && !m.streaming {
		parts = append(parts, m.renderCurrentSource())
	}
	if len(parts) == 0 {
		return "No questions yet."
	}
	return strings.Join(parts, "\n\n")
}

func (m Model) renderCurrentSource() string {
	s := m.sources[m.cursor]
	title := fmt.Sprintf("Source [%d] %d/%d  score=%.3f", s.Number, m.cursor+1, len(m.sources), s.Score)
	if s.StartTimestampS != nil {
		title += "  at " + generation.FormatTimestamp(*s.StartTimestampS)
	}
	return sourceTitleStyle.Render(title) + "\n" + highlightBestSentence(s.Text, m.lastQuery)
}

var (
	conversationBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	sourceTitleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	unicodeWordRe        = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe           = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
