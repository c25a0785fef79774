// Package review is an interactive terminal browser over the tracked
// listings: what was seen, when, and which subscribers were told about it.
package review

import (
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mkravets/orderwatch/internal/model"
)

// Lines per entry in the list view (title + subtitle + blank separator).
const entryItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("39"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Width(14)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)
)

type reviewModel struct {
	entries  []model.DedupEntry
	names    map[int64]string // subscriber id -> display name
	viewport viewport.Model
	cursor   int
	width    int
	height   int
	ready    bool

	view           viewState
	detailViewport viewport.Model
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailViewport.Width = m.width - 4
			m.detailViewport.Height = m.height - 4
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m reviewModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		return m, nil
	case "enter":
		if len(m.entries) == 0 {
			return m, nil
		}
		m.view = viewDetail
		m.detailViewport = viewport.New(m.width-4, m.height-4)
		m.detailViewport.SetContent(m.renderDetail())
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m reviewModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		if url := m.entries[m.cursor].URL; url != "" {
			openURL(url)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m *reviewModel) moveCursor(delta int) {
	m.cursor = clamp(m.cursor+delta, 0, max(len(m.entries)-1, 0))
	m.viewport.SetContent(renderEntries(m.entries, m.cursor))

	cursorTop := m.cursor * entryItemHeight
	cursorBottom := cursorTop + entryItemHeight - 1
	if cursorTop < m.viewport.YOffset {
		m.viewport.SetYOffset(cursorTop)
	} else if cursorBottom >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(cursorBottom - m.viewport.Height + 1)
	}
}

func (m *reviewModel) recalcLayout() {
	// Header (1) + border (2) + status bar (1).
	w := max(m.width-2, 20)
	h := max(m.height-4, 5)

	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.viewport.SetContent(renderEntries(m.entries, m.cursor))
}

func (m reviewModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}

	header := headerStyle.Render(fmt.Sprintf(" Tracked listings (%d)", len(m.entries)))
	pane := borderStyle.Width(m.viewport.Width).Render(m.viewport.View())
	status := statusBarStyle.Width(m.width).Render(" ↑/↓ cursor  Enter detail  q quit")
	return header + "\n" + pane + "\n" + status
}

func (m reviewModel) viewDetail() string {
	title := detailTitleStyle.Render("Listing")
	content := borderStyle.Width(m.width - 2).Render(m.detailViewport.View())
	status := statusBarStyle.Width(m.width).Render(" o open URL  esc/backspace back  ↑/↓ scroll  q quit")
	return title + "\n" + content + "\n" + status
}

func (m reviewModel) renderDetail() string {
	e := m.entries[m.cursor]
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	addField("Title", e.Title)
	addField("External ID", e.ExternalID)
	addField("First seen", e.FirstSeenAt.Local().Format("2006-01-02 15:04"))
	addField("Hash", shortHash(e.ContentHash))
	addField("URL", e.URL)

	b.WriteByte('\n')
	if len(e.Notified) == 0 {
		b.WriteString(subtitleStyle.Render("  no subscriber notified yet") + "\n")
		return b.String()
	}

	b.WriteString(labelStyle.Render("Notified") + "\n")
	for _, id := range sortedSubscriberIDs(e.Notified) {
		name := m.names[id]
		if name == "" {
			name = fmt.Sprintf("subscriber %d", id)
		}
		state := "current content"
		if e.Notified[id] != e.ContentHash {
			state = "stale (eligible again)"
		}
		b.WriteString(fmt.Sprintf("  • %s — %s\n", name, state))
	}
	return b.String()
}

func renderEntries(entries []model.DedupEntry, cursor int) string {
	if len(entries) == 0 {
		return "  (nothing tracked yet)"
	}

	var b strings.Builder
	for i, e := range entries {
		titleSt, subtitleSt, prefix := titleStyle, subtitleStyle, "  "
		if i == cursor {
			titleSt, subtitleSt, prefix = selectedTitleStyle, selectedSubtitleStyle, "> "
		}

		title := e.Title
		if title == "" {
			title = e.ExternalID
		}
		b.WriteString(prefix)
		b.WriteString(titleSt.Render(title))
		b.WriteByte('\n')

		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · notified %d",
			e.FirstSeenAt.Local().Format("2006-01-02 15:04"), len(e.Notified))))
		b.WriteByte('\n')

		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func sortedSubscriberIDs(notified map[int64]string) []int64 {
	ids := make([]int64, 0, len(notified))
	for id := range notified {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// Run launches the review browser over the given entries, newest first.
// names maps subscriber IDs to display names for the detail view.
func Run(entries []model.DedupEntry, names map[int64]string) error {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FirstSeenAt.After(entries[j].FirstSeenAt)
	})

	m := reviewModel{entries: entries, names: names}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Summary returns a one-line operator summary, used by the CLI when stdout is
// not a terminal.
func Summary(entries []model.DedupEntry) string {
	var notified int
	var newest time.Time
	for _, e := range entries {
		if len(e.Notified) > 0 {
			notified++
		}
		if e.FirstSeenAt.After(newest) {
			newest = e.FirstSeenAt
		}
	}
	if len(entries) == 0 {
		return "no tracked listings"
	}
	return fmt.Sprintf("%d tracked listings, %d notified at least once, newest %s",
		len(entries), notified, newest.Local().Format("2006-01-02 15:04"))
}
