// Package tui is the terminal intake kiosk: one patient at a time types
// their answers while the assistant's prompts, the step tracker and the
// guardian notice render around the input.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BTreeMap/IntakeFlow/internal/flow"
	"github.com/BTreeMap/IntakeFlow/internal/models"
)

const (
	// typingPollInterval is how often the kiosk checks for the delayed greeting.
	typingPollInterval = 200 * time.Millisecond
	// transcriptLines is how many messages are kept on screen.
	transcriptLines = 8
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	guardianStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF6B6B")).
			Padding(0, 1)

	stepDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	stepCurrentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	stepTodoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	assistantStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	patientStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
)

// sessionMsg carries the result of one session operation.
type sessionMsg struct {
	session *models.IntakeSession
	err     error
}

// endedMsg reports that the patient ended the intake.
type endedMsg struct{ err error }

// pollMsg asks the kiosk to re-read the session while the greeting is pending.
type pollMsg struct{}

// Kiosk is the bubbletea model for one kiosk screen.
type Kiosk struct {
	sessions flow.SessionManager
	ctrl     *flow.Controller
	channel  models.Channel

	session *models.IntakeSession
	input   textinput.Model
	notice  string // inline validation message
	err     error  // operation failure that is not the patient's fault
	ended   bool
	width   int
	height  int
}

// NewKiosk creates a kiosk that starts a session on the given channel.
func NewKiosk(sessions flow.SessionManager, ctrl *flow.Controller, channel models.Channel) *Kiosk {
	ti := textinput.New()
	ti.Placeholder = "Type your answer"
	ti.CharLimit = 500
	ti.Width = 50
	ti.Focus()
	return &Kiosk{sessions: sessions, ctrl: ctrl, channel: channel, input: ti}
}

// Session returns the current session snapshot, or nil before the first start.
func (k *Kiosk) Session() *models.IntakeSession {
	return k.session
}

// Init starts the first session.
func (k *Kiosk) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, k.start())
}

// Update handles key presses and session results.
func (k *Kiosk) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		k.width = msg.Width
		k.height = msg.Height
		k.input.Width = max(20, msg.Width-8)
		return k, nil

	case sessionMsg:
		return k, k.applyResult(msg)

	case endedMsg:
		if msg.err != nil {
			k.err = msg.err
			return k, nil
		}
		k.session = nil
		k.ended = true
		return k, nil

	case pollMsg:
		if k.session == nil || !k.awaitingGreeting() {
			return k, nil
		}
		return k, k.refresh(k.session.ID)

	case tea.KeyMsg:
		return k.handleKey(msg)
	}

	var cmd tea.Cmd
	k.input, cmd = k.input.Update(msg)
	return k, cmd
}

func (k *Kiosk) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return k, tea.Quit
	}
	if k.ended {
		switch msg.String() {
		case "enter":
			k.ended = false
			return k, k.start()
		case "q", "esc":
			return k, tea.Quit
		}
		return k, nil
	}
	if k.session == nil {
		return k, nil
	}

	if k.session.FlowState.IsTerminal() {
		return k, k.terminalKey(msg.String())
	}

	switch msg.String() {
	case "enter":
		return k, k.submit(k.input.Value())
	case "esc":
		return k, k.startOver()
	}
	var cmd tea.Cmd
	k.input, cmd = k.input.Update(msg)
	return k, cmd
}

// terminalKey maps keys on the blocked and completed screens. The input is inactive there.
func (k *Kiosk) terminalKey(key string) tea.Cmd {
	if k.session.FlowState == models.FlowStateBlocked {
		switch key {
		case "s", "enter", "esc":
			return k.startOver()
		case "e":
			return k.endIntake()
		}
		return nil
	}
	switch key {
	case "enter":
		return k.start()
	case "q", "esc":
		return tea.Quit
	}
	return nil
}

// applyResult stores the snapshot from an operation. Validation errors keep
// the typed text so the patient can correct it.
func (k *Kiosk) applyResult(msg sessionMsg) tea.Cmd {
	if msg.session != nil {
		k.session = msg.session
	}
	k.err = nil
	k.notice = ""

	var ve *models.ValidationError
	var se *models.StateError
	switch {
	case msg.err == nil:
		k.input.Reset()
	case errors.As(msg.err, &ve):
		k.notice = ve.PatientMessage()
	case errors.As(msg.err, &se):
		// Stale key press for a state the session already left.
	default:
		k.err = msg.err
	}
	if k.awaitingGreeting() {
		return tea.Tick(typingPollInterval, func(time.Time) tea.Msg { return pollMsg{} })
	}
	return nil
}

func (k *Kiosk) awaitingGreeting() bool {
	return k.session != nil && k.session.FlowState == models.FlowStateAwaitingName && len(k.session.Messages) == 0
}

func (k *Kiosk) start() tea.Cmd {
	sessions, channel := k.sessions, k.channel
	return func() tea.Msg {
		s, err := sessions.Start(context.Background(), channel, "")
		return sessionMsg{session: s, err: err}
	}
}

func (k *Kiosk) refresh(id string) tea.Cmd {
	sessions := k.sessions
	return func() tea.Msg {
		s, err := sessions.Get(context.Background(), id)
		return sessionMsg{session: s, err: err}
	}
}

func (k *Kiosk) submit(text string) tea.Cmd {
	sessions, id, state := k.sessions, k.session.ID, k.session.FlowState
	return func() tea.Msg {
		ctx := context.Background()
		var s *models.IntakeSession
		var err error
		switch state {
		case models.FlowStateAwaitingName:
			s, err = sessions.SubmitName(ctx, id, text)
		case models.FlowStateAwaitingDOB:
			s, err = sessions.SubmitDateOfBirth(ctx, id, text)
		default:
			s, err = sessions.SubmitAnswer(ctx, id, text)
		}
		return sessionMsg{session: s, err: err}
	}
}

func (k *Kiosk) startOver() tea.Cmd {
	sessions, id := k.sessions, k.session.ID
	k.input.Reset()
	return func() tea.Msg {
		s, err := sessions.StartOver(context.Background(), id)
		return sessionMsg{session: s, err: err}
	}
}

func (k *Kiosk) endIntake() tea.Cmd {
	sessions, id := k.sessions, k.session.ID
	return func() tea.Msg {
		return endedMsg{err: sessions.EndIntake(context.Background(), id)}
	}
}

// View renders the screen for the current flow state.
func (k *Kiosk) View() string {
	title := titleStyle.Render("Intake Assistant")
	if k.ended {
		return lipgloss.JoinVertical(lipgloss.Left,
			title,
			panelStyle.Render("This intake has ended. Please see the front desk."),
			helpStyle.Render("enter: next patient • q: quit"),
		)
	}
	if k.session == nil {
		body := "Starting…"
		if k.err != nil {
			body = errorStyle.Render("Error: " + k.err.Error())
		}
		return lipgloss.JoinVertical(lipgloss.Left, title, body)
	}

	snap := k.ctrl.Snapshot(*k.session)
	sections := []string{title, renderStepper(snap)}

	switch snap.FlowState {
	case models.FlowStateBlocked:
		sections = append(sections,
			renderTranscript(snap.Messages),
			renderGuardian(snap.Guardian),
			helpStyle.Render("s: start over • e: end intake • ctrl+c: quit"),
		)
	case models.FlowStateCompleted:
		sections = append(sections,
			renderTranscript(snap.Messages),
			panelStyle.Render("✓ Intake complete. Thank you!"),
			helpStyle.Render("enter: next patient • q: quit"),
		)
	default:
		transcript := renderTranscript(snap.Messages)
		if k.awaitingGreeting() {
			transcript = assistantStyle.Render("Assistant is typing…")
		}
		sections = append(sections, transcript, panelStyle.Render(k.input.View()))
		if k.notice != "" {
			sections = append(sections, errorStyle.Render(k.notice))
		}
		sections = append(sections, helpStyle.Render(inputHelp(snap.FlowState)))
	}
	if k.err != nil {
		sections = append(sections, errorStyle.Render("Error: "+k.err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func inputHelp(state models.FlowState) string {
	switch state {
	case models.FlowStateAwaitingDOB:
		return "Date of birth as YYYY-MM-DD or MM/DD/YYYY • enter: submit • esc: start over"
	default:
		return "enter: submit • esc: start over • ctrl+c: quit"
	}
}

// renderStepper draws the step tracker. Basics covers name and date of
// birth; later steps follow the current answer step.
func renderStepper(snap flow.Snapshot) string {
	current := snap.CurrentStepIndex
	parts := make([]string, len(snap.StepLabels))
	for i, label := range snap.StepLabels {
		switch {
		case snap.FlowState == models.FlowStateCompleted || i < current:
			parts[i] = stepDoneStyle.Render("● " + label)
		case i == current:
			parts[i] = stepCurrentStyle.Render("◉ " + label)
		default:
			parts[i] = stepTodoStyle.Render("○ " + label)
		}
	}
	return strings.Join(parts, stepTodoStyle.Render(" ─ "))
}

func renderTranscript(messages []models.ConversationMessage) string {
	if len(messages) > transcriptLines {
		messages = messages[len(messages)-transcriptLines:]
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Sender == models.SenderPatient {
			lines = append(lines, patientStyle.Render(fmt.Sprintf("You: %s", m.Text)))
			continue
		}
		lines = append(lines, assistantStyle.Render(fmt.Sprintf("Assistant: %s", m.Text)))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderGuardian(notice *flow.GuardianNotice) string {
	if notice == nil {
		return ""
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		errorStyle.Bold(true).Render(notice.Title),
		"",
		notice.Body,
		"",
		errorStyle.Render(notice.Emergency),
	)
	return guardianStyle.Render(body)
}
