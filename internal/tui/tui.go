// Package tui is the interactive live view: a list of items kept current by
// the synchronizer, an inline add box and delete on the selected row.
package tui

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/idilsaglam/livetodo/internal/model"
	"github.com/idilsaglam/livetodo/internal/syncer"
	"github.com/idilsaglam/livetodo/internal/ui"
)

// listItem adapts model.Item to bubbles/list.Item
type listItem struct{ model.Item }

func (i listItem) FilterValue() string { return i.Name }

// single-line rows
type itemDelegate struct{ theme ui.Theme }

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(listItem)
	if !ok {
		return
	}
	box := d.theme.Muted.Render(d.theme.BoxUnchecked)
	text := it.Name
	if it.IsCompleted {
		box = d.theme.Success.Render(d.theme.BoxChecked)
		text = d.theme.Done.Render(text)
	}
	prefix := "  "
	if index == m.Index() {
		prefix = d.theme.Selected.Render(">") + " "
	}
	fmt.Fprintln(w, prefix+box+" "+text)
}

var (
	addKey    = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	deleteKey = key.NewBinding(key.WithKeys("d", "x"), key.WithHelp("d", "delete"))
	reloadKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload"))
	quitKey   = key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit"))
)

type Model struct {
	sync  syncer.Model
	list  list.Model
	theme ui.Theme
	start tea.Cmd

	adding bool
	ti     textinput.Model

	width, height int
}

// New starts the synchronizer; its load and subscribe commands run from Init.
func New(s syncer.Model, theme ui.Theme) Model {
	l := list.New(nil, itemDelegate{theme: theme}, 0, 0)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.Styles.Title = theme.Title
	l.Styles.HelpStyle = theme.Muted
	l.Styles.PaginationStyle = theme.Muted
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")
	extra := func() []key.Binding { return []key.Binding{addKey, deleteKey, reloadKey, quitKey} }
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "What needs to be done?"
	ti.CharLimit = 200

	m := Model{list: l, theme: theme, ti: ti, width: 80, height: 24}
	m.sync, m.start = s.Initialize()
	m.refresh()
	m.resize()
	return m
}

// Sync exposes the synchronizer state.
func (m Model) Sync() syncer.Model { return m.sync }

func (m Model) Init() tea.Cmd { return m.start }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.adding {
			return m.updateAdding(msg)
		}
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, quitKey):
			return m.quit()
		case key.Matches(msg, addKey):
			m.adding = true
			m.ti.SetValue(m.sync.Pending())
			m.ti.CursorEnd()
			m.resize()
			cmd := m.ti.Focus()
			return m, cmd
		case key.Matches(msg, deleteKey):
			if it, ok := m.list.SelectedItem().(listItem); ok {
				return m, m.sync.Delete(it.ID)
			}
			return m, nil
		case key.Matches(msg, reloadKey):
			var cmd tea.Cmd
			m.sync, cmd = m.sync.Initialize()
			m.refresh()
			return m, cmd
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	before, state := m.sync.Items(), m.sync.State()
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.sync, cmd = m.sync.Update(msg)
	cmds = append(cmds, cmd)
	if state != m.sync.State() || !slices.Equal(before, m.sync.Items()) {
		cmds = append(cmds, m.refresh())
	}
	if m.ti.Value() != m.sync.Pending() {
		m.ti.SetValue(m.sync.Pending())
	}
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// updateAdding drives the inline add box. Enter submits and keeps the box
// open; the text clears once the backend confirms the insert.
func (m Model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		var cmd tea.Cmd
		m.sync, cmd = m.sync.Submit()
		return m, cmd
	case tea.KeyEsc:
		m.adding = false
		m.ti.Blur()
		m.resize()
		return m, nil
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	m.sync = m.sync.SetPending(m.ti.Value())
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.sync = m.sync.Teardown()
	return m, tea.Quit
}

func (m *Model) refresh() tea.Cmd {
	items := m.sync.Items()
	li := make([]list.Item, 0, len(items))
	for _, it := range items {
		li = append(li, listItem{it})
	}
	done, pending := items.Stats()
	m.list.Title = fmt.Sprintf("%s   %s %d  %s %d  %s %d   %s",
		m.theme.Title.Render("Todos"),
		m.theme.Success.Render(m.theme.SymDone), done,
		m.theme.Pending.Render(m.theme.SymPending), pending,
		m.theme.Accent.Render("Total"), len(items),
		m.stateLabel(),
	)
	return m.list.SetItems(li)
}

func (m Model) stateLabel() string {
	switch m.sync.State() {
	case syncer.Subscribed:
		return m.theme.Success.Render("● live")
	case syncer.Subscribing:
		return m.theme.Pending.Render("◌ connecting")
	default:
		return m.theme.Muted.Render("○ offline")
	}
}

func (m *Model) resize() {
	// border + padding
	w, h := m.width-4, m.height-2
	if m.adding {
		h -= 4
	}
	m.list.SetSize(max(w, 10), max(h, 3))
	m.ti.Width = max(w-6, 10)
}

func (m Model) View() string {
	content := m.list.View()
	if m.adding {
		bar := lipgloss.NewStyle().
			Border(m.theme.Border).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
		title := "Add new item " + m.theme.Muted.Render("(enter to save, esc to close)")
		content += "\n" + bar.Render(title+"\n"+m.ti.View())
	}
	return lipgloss.NewStyle().
		Border(m.theme.Border).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(strings.TrimRight(content, "\n"))
}

// Run shows the live view until the user quits or ctx is cancelled. The
// change stream is closed on the way out.
func Run(ctx context.Context, s syncer.Model, theme ui.Theme) error {
	p := tea.NewProgram(New(s, theme), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.sync.Teardown()
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("live view: %w", err)
	}
	return nil
}
