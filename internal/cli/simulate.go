package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/compose"
	"github.com/musterbot/muster/internal/config"
	"github.com/musterbot/muster/internal/roster"
	"github.com/musterbot/muster/internal/tracker"
)

// The simulator drives the real pipeline — bus, tracker, roster, composer —
// against an in-memory transport, so command behavior can be tried without a
// bot token or a sacrificial group chat.

const simConversation = "local"

// simMaxLen is deliberately tiny so reply splitting is easy to provoke.
const simMaxLen = 120

// --- in-memory transport ---

type simFormat struct{}

func (simFormat) Mention(p roster.Participant) string { return "@" + p.Handle }
func (simFormat) Body(text string) string             { return text }
func (simFormat) Decorate(mentions string) string     { return mentions }
func (simFormat) MaxLen() int                         { return simMaxLen }

type simTransport struct {
	mu      sync.Mutex
	admins  map[string]bool
	program *tea.Program
}

func newSimTransport() *simTransport {
	return &simTransport{admins: make(map[string]bool)}
}

func (s *simTransport) IsAdministrator(_ context.Context, _, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admins[userID], nil
}

func (s *simTransport) Format() compose.Format { return simFormat{} }

func (s *simTransport) Send(_ context.Context, reply *bus.Reply) error {
	s.program.Send(botReplyMsg{chunks: reply.Chunks})
	return nil
}

func (s *simTransport) setAdmin(userID string, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[userID] = admin
}

// --- messages ---

type botReplyMsg struct {
	chunks []string
}

// --- history entries ---

type simEntry struct {
	kind    string // "message", "event", "bot", "error"
	sender  string
	content string
}

// --- model ---

type simModel struct {
	input    textinput.Model
	viewport viewport.Model

	b         *bus.Bus
	transport *simTransport
	trigger   string

	history []simEntry
	sender  string
	users   map[string]string // name -> user id
	nextID  int
	nextMsg int

	ready  bool
	width  int
	height int
}

func newSimModel(b *bus.Bus, transport *simTransport, trigger string) simModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /help for simulator commands..."
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	m := simModel{
		input:     ti,
		b:         b,
		transport: transport,
		trigger:   trigger,
		users:     make(map[string]string),
		nextMsg:   1,
	}
	// Seed a default admin so the command works out of the box.
	m.sender = "alice"
	transport.setAdmin(m.userID("alice"), true)
	return m
}

func (m *simModel) origin() bus.Origin {
	return bus.Origin{Channel: "sim", Conversation: simConversation}
}

func (m *simModel) userID(name string) string {
	if id, ok := m.users[name]; ok {
		return id
	}
	m.nextID++
	id := "u" + strconv.Itoa(m.nextID)
	m.users[name] = id
	return id
}

func (m simModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m simModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Layout: header(1) + divider(1) + viewport + divider(1) + input(1) + status(1).
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			if isExitCmd(line) {
				return m, tea.Quit
			}
			m.input.SetValue("")
			m.handleLine(line)
			m.viewport.SetContent(m.renderHistory())
			m.viewport.GotoBottom()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case botReplyMsg:
		for _, chunk := range msg.chunks {
			m.history = append(m.history, simEntry{kind: "bot", content: chunk})
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleLine interprets simulator commands; anything else is a message from
// the current sender, fed through the real event pipeline.
func (m *simModel) handleLine(line string) {
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch word {
	case "/help":
		m.event("commands: /user <name> · /join <name> · /leave <name> · /promote <name> · /demote <name> · " + m.trigger + " [text]")
		return
	case "/user":
		if rest == "" {
			m.errorf("usage: /user <name>")
			return
		}
		m.sender = rest
		m.userID(rest)
		m.event(rest + " is now typing")
		return
	case "/join":
		if rest == "" {
			m.errorf("usage: /join <name>")
			return
		}
		m.b.PublishEvent(bus.MemberJoined{Origin: m.origin(), UserID: m.userID(rest), Handle: rest})
		m.event(rest + " joined")
		return
	case "/leave":
		if rest == "" {
			m.errorf("usage: /leave <name>")
			return
		}
		m.b.PublishEvent(bus.MemberLeft{Origin: m.origin(), UserID: m.userID(rest)})
		m.event(rest + " left")
		return
	case "/promote":
		if rest == "" {
			m.errorf("usage: /promote <name>")
			return
		}
		m.transport.setAdmin(m.userID(rest), true)
		m.event(rest + " is now an admin")
		return
	case "/demote":
		if rest == "" {
			m.errorf("usage: /demote <name>")
			return
		}
		m.transport.setAdmin(m.userID(rest), false)
		m.event(rest + " is no longer an admin")
		return
	}

	msgID := strconv.Itoa(m.nextMsg)
	m.nextMsg++
	m.b.PublishEvent(bus.MessageReceived{
		Origin:    m.origin(),
		UserID:    m.userID(m.sender),
		Handle:    m.sender,
		Text:      line,
		MessageID: msgID,
	})
	m.history = append(m.history, simEntry{kind: "message", sender: m.sender, content: line})
}

func (m *simModel) event(text string) {
	m.history = append(m.history, simEntry{kind: "event", content: text})
}

func (m *simModel) errorf(format string, args ...any) {
	m.history = append(m.history, simEntry{kind: "error", content: fmt.Sprintf(format, args...)})
}

func (m simModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := TitleStyle.Render(fmt.Sprintf(" %s muster simulator", Logo))
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		" " + m.input.View() + "\n" +
		m.renderStatusBar()
}

func (m simModel) renderHistory() string {
	if len(m.history) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, entry := range m.history {
		switch entry.kind {
		case "message":
			sb.WriteString("\n  " + SenderLabel.Render(entry.sender) + "\n")
			for _, line := range strings.Split(entry.content, "\n") {
				sb.WriteString("  " + line + "\n")
			}
		case "bot":
			sb.WriteString("\n  " + BotLabel.Render("muster") + "\n")
			for _, line := range strings.Split(entry.content, "\n") {
				sb.WriteString("  " + line + "\n")
			}
		case "event":
			sb.WriteString("  " + EventStyle.Render("· "+entry.content) + "\n")
		case "error":
			sb.WriteString("  " + ErrStyle.Render(entry.content) + "\n")
		}
	}
	return sb.String()
}

func (m simModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("  " + BoldStyle.Render("Simulated group chat") + "\n")
	sb.WriteString(DimStyle.Render("  1. Messages you type come from the current sender (alice, admin)") + "\n")
	sb.WriteString(DimStyle.Render("  2. /join bob adds bob; /user bob switches who is typing") + "\n")
	sb.WriteString(DimStyle.Render("  3. "+m.trigger+" let's go — tags everyone the bot has seen") + "\n")
	sb.WriteString(DimStyle.Render("  4. /help for all simulator commands") + "\n")
	return sb.String()
}

func (m simModel) renderStatusBar() string {
	left := DimStyle.Render(" sender: " + m.sender)
	right := DimStyle.Render("trigger: " + m.trigger + " ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func isExitCmd(s string) bool {
	s = strings.ToLower(s)
	return s == "exit" || s == "quit" || s == "/exit" || s == "/quit" || s == ":q"
}

// RunSimulate starts the simulator TUI over a real tracker pipeline.
func RunSimulate(cfg *config.Config) error {
	b := bus.New()
	store := roster.NewStore()
	trk := tracker.New(b, store, tracker.Options{
		Trigger: cfg.Command.Trigger,
		Timeout: time.Duration(cfg.Command.ReplyTimeoutS) * time.Second,
	})

	transport := newSimTransport()
	trk.Bind("sim", tracker.Binding{Caps: transport})
	b.Bind("sim", transport.Send)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trk.Run(ctx)
	go b.DispatchOutbound(ctx)

	m := newSimModel(b, transport, cfg.Command.Trigger)
	p := tea.NewProgram(m, tea.WithAltScreen())
	transport.program = p

	_, err := p.Run()
	return err
}
