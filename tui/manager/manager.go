// Package manager is the terminal manager surface: a table of connections
// and their entities, kept current from the session's event stream.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/grovetools/virtsession/pkg/models"
	"github.com/grovetools/virtsession/tui/keymap"
	"github.com/grovetools/virtsession/tui/theme"
)

// Source is what the manager reads and drives. *client.Client satisfies it.
type Source interface {
	Connections(ctx context.Context) ([]models.ConnectionInfo, error)
	Refresh(ctx context.Context) (bool, error)
	RemoveConnection(ctx context.Context, uri string) error
	EntityAction(ctx context.Context, req models.EntityActionRequest) error
}

const requestTimeout = 10 * time.Second

type (
	connectionsMsg struct {
		conns []models.ConnectionInfo
		err   error
	}
	pollMsg       struct{}
	eventMsg      models.Event
	eventsDoneMsg struct{}
	actionMsg     struct {
		what string
		err  error
	}
)

// row is one table line: a connection, or an entity under it.
type row struct {
	uri    string
	entity string
	state  string
}

// Model is the bubbletea model of the manager.
type Model struct {
	source   Source
	events   <-chan models.Event
	interval time.Duration

	keys  keymap.Base
	help  help.Model
	table table.Model
	theme *theme.Theme

	rows   []row
	status string
	err    error
	width  int
}

// New creates a manager. events may be nil, in which case the table is
// only refreshed by polling.
func New(source Source, events <-chan models.Event, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	th := theme.DefaultTheme

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = th.TableHeader
	styles.Selected = th.SelectedRow
	t.SetStyles(styles)

	return Model{
		source:   source,
		events:   events,
		interval: interval,
		keys:     keymap.NewBase(),
		help:     help.New(),
		table:    t,
		theme:    th,
	}
}

func columns(width int) []table.Column {
	uriWidth := width - 40
	if uriWidth < 20 {
		uriWidth = 20
	}
	return []table.Column{
		{Title: "Connection", Width: uriWidth},
		{Title: "Entity", Width: 20},
		{Title: "State", Width: 14},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.poll(), m.waitEvent())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		if msg.Height > 6 {
			m.table.SetHeight(msg.Height - 6)
		}
		return m, nil

	case connectionsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.setRows(msg.conns)
		}
		return m, nil

	case pollMsg:
		return m, tea.Batch(m.fetch(), m.poll())

	case eventMsg:
		m.status = fmt.Sprintf("%s: %s", msg.Kind, msg.Connection.URI)
		return m, tea.Batch(m.fetch(), m.waitEvent())

	case eventsDoneMsg:
		m.events = nil
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = msg.what
		}
		return m, m.fetch()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	}

	sel, ok := m.selected()
	if !ok {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Delete):
		return m, m.remove(sel.uri)
	case key.Matches(msg, m.keys.Run) && sel.entity != "":
		return m, m.action(sel, models.ActionRun)
	case key.Matches(msg, m.keys.Stop) && sel.entity != "":
		return m, m.action(sel, models.ActionShutdown)
	case key.Matches(msg, m.keys.Pause) && sel.entity != "":
		if sel.state == "paused" {
			return m, m.action(sel, models.ActionResume)
		}
		return m, m.action(sel, models.ActionSuspend)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Virtual Machine Manager"))
	b.WriteString("\n")
	if len(m.rows) == 0 {
		b.WriteString(m.theme.Muted.Render("No connections registered."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}
	switch {
	case m.err != nil:
		b.WriteString(m.theme.Error.Render(m.err.Error()))
	case m.status != "":
		b.WriteString(m.theme.Muted.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) setRows(conns []models.ConnectionInfo) {
	sort.Slice(conns, func(i, j int) bool { return conns[i].URI < conns[j].URI })

	rows := make([]row, 0, len(conns))
	trows := make([]table.Row, 0, len(conns))
	for _, c := range conns {
		rows = append(rows, row{uri: c.URI, state: c.State})
		trows = append(trows, table.Row{c.URI, "", m.stateCell(c.State)})
		for _, ent := range c.Entities {
			rows = append(rows, row{uri: c.URI, entity: ent.ID, state: ent.State})
			name := ent.Name
			if name == "" {
				name = ent.ID
			}
			trows = append(trows, table.Row{"", name, m.stateCell(ent.State)})
		}
	}
	m.rows = rows
	m.table.SetRows(trows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) stateCell(state string) string {
	return m.theme.StateStyle(state).Render(state)
}

func (m Model) selected() (row, bool) {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.rows) {
		return row{}, false
	}
	return m.rows[c], true
}

func (m Model) fetch() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conns, err := src.Connections(ctx)
		return connectionsMsg{conns: conns, err: err}
	}
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) waitEvent() tea.Cmd {
	ch := m.events
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsDoneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) refresh() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		started, err := src.Refresh(ctx)
		what := "Refresh started"
		if !started {
			what = "Refresh already running"
		}
		return actionMsg{what: what, err: err}
	}
}

func (m Model) remove(uri string) tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := src.RemoveConnection(ctx, uri)
		return actionMsg{what: "Removed " + uri, err: err}
	}
}

func (m Model) action(sel row, action string) tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := src.EntityAction(ctx, models.EntityActionRequest{URI: sel.uri, ID: sel.entity, Action: action})
		return actionMsg{what: fmt.Sprintf("%s %s", action, sel.entity), err: err}
	}
}

var _ tea.Model = Model{}
