package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"

	"github.com/mediasessions/mediahub/lib/observer"
	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

// snapshotMsg carries a coordinator push into the bubbletea loop.
type snapshotMsg struct {
	sessions []session.Session
}

// openResultMsg reports an explicit channel open attempt.
type openResultMsg struct {
	err error
}

// commandResultMsg reports a command send. Only local gating errors show
// up here; execution results stay between the coordinator and the page.
type commandResultMsg struct {
	err error
}

// noticeFadeMsg clears the status notice after a delay.
type noticeFadeMsg struct{}

const (
	seekStep        = 10.0
	commandTimeout  = 2 * time.Second
	noticeFadeDelay = 3 * time.Second
)

type model struct {
	obs    *observer.Observer
	url    string
	styles styles

	sessions []session.Session
	cursor   int
	notice   string
	width    int
	height   int
}

func newModel(obs *observer.Observer, url string) *model {
	return &model{
		obs:    obs,
		url:    url,
		styles: newStyles(),
	}
}

func (m *model) Init() tea.Cmd {
	return m.openChannel
}

func (m *model) openChannel() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return openResultMsg{err: m.obs.Open(ctx)}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.applySnapshot(msg.sessions)
		return m, nil

	case openResultMsg:
		if msg.err != nil {
			return m.showNotice(fmt.Sprintf("open failed: %v (press r to retry)", msg.err))
		}
		return m, nil

	case commandResultMsg:
		if msg.err != nil {
			return m.showNotice(fmt.Sprintf("command refused: %v", msg.err))
		}
		return m, nil

	case noticeFadeMsg:
		m.notice = ""
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}
	case " ":
		return m, m.sendCommand(wire.CommandTogglePlay, nil)
	case "left":
		return m, m.sendCommand(wire.CommandSeekRelative, &wire.CommandParams{Delta: lo.ToPtr(-seekStep)})
	case "right":
		return m, m.sendCommand(wire.CommandSeekRelative, &wire.CommandParams{Delta: lo.ToPtr(seekStep)})
	case "r":
		return m, m.openChannel
	}
	return m, nil
}

// applySnapshot replaces the list and keeps the cursor on the same session
// when it survived the replacement.
func (m *model) applySnapshot(sessions []session.Session) {
	var selectedID string
	if m.cursor < len(m.sessions) {
		selectedID = m.sessions[m.cursor].ID
	}
	m.sessions = sessions

	if _, idx, ok := lo.FindIndexOf(sessions, func(s session.Session) bool {
		return s.ID == selectedID
	}); ok {
		m.cursor = idx
		return
	}
	if m.cursor >= len(sessions) {
		m.cursor = max(0, len(sessions)-1)
	}
}

func (m *model) sendCommand(name wire.CommandName, params *wire.CommandParams) tea.Cmd {
	if len(m.sessions) == 0 {
		return nil
	}
	target := m.sessions[m.cursor].ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandResultMsg{err: m.obs.SendCommand(ctx, target, name, params)}
	}
}

func (m *model) showNotice(text string) (tea.Model, tea.Cmd) {
	m.notice = text
	return m, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

func (m *model) View() string {
	var b strings.Builder

	state := m.styles.offline.Render("offline, retrying")
	if m.obs.Connected() {
		state = m.styles.live.Render("live")
	}
	b.WriteString(m.styles.title.Render("mediawatch"))
	b.WriteString("  ")
	b.WriteString(state)
	b.WriteString("  ")
	b.WriteString(m.styles.meta.Render(m.url))
	b.WriteString("\n\n")

	if len(m.sessions) == 0 {
		b.WriteString(m.styles.empty.Render("no playback sessions"))
		b.WriteString("\n")
	}
	for i, s := range m.sessions {
		b.WriteString(m.renderRow(i, s))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.styles.notice.Render(m.notice))
	} else {
		b.WriteString(m.styles.help.Render("↑/↓ select · space toggle · ←/→ seek 10s · r reconnect · q quit"))
	}
	return b.String()
}

func (m *model) renderRow(i int, s session.Session) string {
	marker := "  "
	rowStyle := m.styles.row
	if i == m.cursor {
		marker = m.styles.cursor.Render("> ")
		rowStyle = m.styles.selected
	}

	indicator := "⏸"
	if s.IsPlaying {
		indicator = m.styles.playing.Render("▶")
	}
	if s.IsEnded {
		indicator = "⏹"
	}

	title := lo.CoalesceOrEmpty(s.Title, s.SourceURL, s.ID)
	line := fmt.Sprintf("%s %s", indicator, rowStyle.Render(title))
	if s.Artist != "" {
		line += m.styles.meta.Render(" — " + s.Artist)
	}

	details := []string{formatPosition(s), s.SiteName}
	if s.Muted {
		details = append(details, "muted")
	}
	if s.PictureInPicture {
		details = append(details, "pip")
	}
	details = lo.Filter(details, func(d string, _ int) bool { return d != "" })
	line += m.styles.meta.Render("  [" + strings.Join(details, " · ") + "]")

	return marker + line
}

func formatPosition(s session.Session) string {
	if s.Duration == nil || *s.Duration <= 0 || math.IsInf(*s.Duration, 1) {
		return formatClock(s.CurrentTime) + " / live"
	}
	return formatClock(s.CurrentTime) + " / " + formatClock(*s.Duration)
}

func formatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
