package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Requester sends panel requests to the gateway and returns the request id.
type Requester interface {
	Send(text string) (string, error)
	Reset() (string, error)
	Cancel() (string, error)
}

// exchange is one prompt and the reply shown for it.
type exchange struct {
	prompt    string
	reply     string
	final     bool
	err       bool
	cancelled bool
}

// MainModel is the root bubbletea model of the terminal panel.
type MainModel struct {
	client Requester

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	exchanges []exchange
	streaming bool

	sessionID string
	model     string
	status    string
	connErr   error

	width  int
	height int
}

// NewMainModel creates the root model.
func NewMainModel(client Requester) MainModel {
	ta := textarea.New()
	ta.Placeholder = "Ask something... (enter to send, alt+enter for newline)"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 0
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.Focus()

	vp := viewport.New(80, 20)
	vp.KeyMap = viewport.KeyMap{}
	vp.MouseWheelEnabled = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorAssistant)

	return MainModel{
		client:   client,
		viewport: vp,
		input:    ta,
		spinner:  sp,
		status:   "connecting...",
	}
}

// Init starts the cursor blink.
func (m MainModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update processes all incoming messages.
func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionMsg:
		m.sessionID = msg.SessionID
		m.model = msg.Model
		m.status = "connected"
		return m, nil

	case ResponseMsg:
		if msg.OK {
			return m, nil
		}
		// Only a send can be refused while we are streaming.
		if m.streaming {
			m.dropPending()
		}
		m.status = msg.Error
		return m, nil

	case UpdateMsg:
		m.applyUpdate(msg)
		return m, nil

	case ClearMsg:
		m.exchanges = nil
		m.status = "conversation cleared"
		m.refresh()
		return m, nil

	case DisconnectedMsg:
		m.connErr = msg.Err
		m.streaming = false
		m.status = "disconnected"
		return m, nil

	case sendErrorMsg:
		m.dropPending()
		m.status = fmt.Sprintf("send failed: %v", msg.err)
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m MainModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if !m.streaming {
			return m, nil
		}
		m.status = "cancelling..."
		return m, m.request(m.client.Cancel)

	case "ctrl+r":
		if m.streaming {
			m.status = "wait for the response to finish (esc to cancel)"
			return m, nil
		}
		return m, m.request(m.client.Reset)

	case "pgup":
		m.viewport.PageUp()
		return m, nil

	case "pgdown":
		m.viewport.PageDown()
		return m, nil

	case "enter":
		return m.submit()
	}

	if msg.Type == tea.KeyEnter && msg.Alt {
		m.input.InsertString("\n")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the prompt unless it is blank or a turn is in flight.
func (m MainModel) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		m.status = "Please enter a prompt."
		return m, nil
	}
	if m.streaming {
		m.status = "a response is still streaming"
		return m, nil
	}

	m.input.Reset()
	m.exchanges = append(m.exchanges, exchange{prompt: text})
	m.streaming = true
	m.status = ""
	m.refresh()

	return m, tea.Batch(
		m.spinner.Tick,
		m.request(func() (string, error) { return m.client.Send(text) }),
	)
}

// request writes to the gateway off the update loop. The outcome arrives
// later as a ResponseMsg.
func (m MainModel) request(call func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		if _, err := call(); err != nil {
			return sendErrorMsg{err: err}
		}
		return nil
	}
}

// applyUpdate replaces the reply of the current exchange wholesale.
func (m *MainModel) applyUpdate(u UpdateMsg) {
	n := len(m.exchanges)
	if n == 0 || m.exchanges[n-1].final {
		// Turn started elsewhere (or we missed the prompt); show it anyway.
		m.exchanges = append(m.exchanges, exchange{})
		n++
	}

	ex := &m.exchanges[n-1]
	ex.reply = u.Text
	ex.final = u.Final
	ex.err = u.Error
	ex.cancelled = u.Cancelled

	if u.Final {
		m.streaming = false
		if u.Cancelled {
			m.status = "cancelled"
		}
	}
	m.refresh()
}

// dropPending forgets a prompt that never started streaming.
func (m *MainModel) dropPending() {
	m.streaming = false
	if n := len(m.exchanges); n > 0 && !m.exchanges[n-1].final && m.exchanges[n-1].reply == "" {
		m.exchanges = m.exchanges[:n-1]
		m.refresh()
	}
}

func (m *MainModel) layout() {
	inputHeight := m.input.Height() + 2    // border
	vpHeight := m.height - inputHeight - 2 // title + status bar
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight
	m.input.SetWidth(m.width - 4)
	m.refresh()
}

func (m *MainModel) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m MainModel) renderTranscript() string {
	var sb strings.Builder
	for i, ex := range m.exchanges {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if ex.prompt != "" {
			sb.WriteString(UserStyle.Render("you") + "\n" + ex.prompt + "\n\n")
		}
		sb.WriteString(AssistantStyle.Render("assistant") + "\n")
		switch {
		case ex.err:
			sb.WriteString(ErrorStyle.Render(ex.reply))
		case ex.cancelled:
			sb.WriteString(ex.reply + "\n" + MutedStyle.Render("(cancelled)"))
		default:
			sb.WriteString(ex.reply)
		}
	}
	return sb.String()
}

func (m MainModel) statusLine() string {
	parts := []string{}
	if m.streaming {
		parts = append(parts, m.spinner.View()+" streaming (esc to cancel)")
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	if m.connErr != nil {
		parts = append(parts, m.connErr.Error())
	}
	if m.model != "" {
		parts = append(parts, "model: "+m.model)
	}
	if m.sessionID != "" {
		parts = append(parts, m.sessionID)
	}
	line := strings.Join(parts, " · ")
	if m.width > 0 {
		return StatusBarStyle.Width(m.width).Render(line)
	}
	return StatusBarStyle.Render(line)
}

// View renders the full TUI layout.
func (m MainModel) View() string {
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		TitleStyle.Render("FastCodeR1"),
		m.viewport.View(),
		PromptBorderStyle.Render(m.input.View()),
		m.statusLine(),
	)
}
