// Package tui provides the live terminal view over the family hub's todos,
// calendar and memo board.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"famhub/backend"
	"famhub/internal/collection"
	"famhub/internal/state"
	"famhub/internal/utils"
)

// Pane is one of the three collection views
type Pane int

const (
	PaneTodos Pane = iota
	PaneCalendar
	PaneMemos
	paneCount
)

var paneNames = [paneCount]string{"Todos", "Calendar", "Memos"}

// String returns the pane title.
func (p Pane) String() string {
	if p < 0 || p >= paneCount {
		return "Unknown"
	}
	return paneNames[p]
}

// ParsePane maps "todos", "calendar" or "memos" to a Pane. Empty means todos.
func ParsePane(s string) (Pane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "todos":
		return PaneTodos, nil
	case "calendar", "events":
		return PaneCalendar, nil
	case "memos":
		return PaneMemos, nil
	}
	return PaneTodos, fmt.Errorf("unknown pane %q", s)
}

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeEdit
	ModeConfirmDelete
	ModeHelp
)

// Options wires the view to its controllers.
type Options struct {
	Todos      *collection.Todos
	Calendar   *collection.Calendar
	Memos      *collection.Memos
	Online     *state.Flag // Shown in the status bar; nil hides it
	Visibility *state.Flag // Set on terminal focus, cleared on blur
	Pane       Pane
	Filter     collection.Filter
	Now        func() time.Time
}

// row is one selectable line of the current pane.
type row struct {
	id      string
	text    string
	done    bool
	pending bool
}

// Model represents the TUI state
type Model struct {
	ctx        context.Context
	todos      *collection.Todos
	calendar   *collection.Calendar
	memos      *collection.Memos
	online     *state.Flag
	visibility *state.Flag
	now        func() time.Time

	pane   Pane
	cursor [paneCount]int
	filter collection.Filter

	mode      Mode
	textInput textinput.Model
	editingID string
	message   string

	changes chan struct{}
	cancels []func()

	width  int
	height int

	paneStyle      lipgloss.Style
	tabStyle       lipgloss.Style
	activeTabStyle lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	pendingStyle   lipgloss.Style
	eventDayStyle  lipgloss.Style
	helpStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
}

// Message types
type changedMsg struct{}

type refreshedMsg struct{}

type errMsg struct {
	err error
}

type infoMsg struct {
	text string
}

// New creates a new TUI model. ctx bounds the mutations it issues.
func New(ctx context.Context, opts Options) *Model {
	ti := textinput.New()
	ti.CharLimit = 256

	if opts.Filter == "" {
		opts.Filter = collection.FilterAll
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Model{
		ctx:        ctx,
		todos:      opts.Todos,
		calendar:   opts.Calendar,
		memos:      opts.Memos,
		online:     opts.Online,
		visibility: opts.Visibility,
		now:        opts.Now,
		pane:       opts.Pane,
		filter:     opts.Filter,
		textInput:  ti,
		changes:    make(chan struct{}, 1),
		paneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		tabStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1),
		activeTabStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Underline(true).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		pendingStyle: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("243")),
		eventDayStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
	}

	notify := func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
	if m.todos != nil {
		m.cancels = append(m.cancels, m.todos.Subscribe(func([]backend.Todo) { notify() }))
	}
	if m.calendar != nil {
		m.cancels = append(m.cancels, m.calendar.Subscribe(func([]backend.Event) { notify() }))
	}
	if m.memos != nil {
		m.cancels = append(m.cancels, m.memos.Subscribe(func([]backend.Memo) { notify() }))
	}
	if m.online != nil {
		m.cancels = append(m.cancels, m.online.Subscribe(func(bool) { notify() }))
	}
	return m
}

// Close detaches the model from its controllers.
func (m *Model) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

// waitForChange delivers the next collection change to Update.
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// Pane returns the pane being shown.
func (m *Model) Pane() Pane {
	return m.pane
}

// Filter returns the todo filter.
func (m *Model) Filter() collection.Filter {
	return m.filter
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.FocusMsg:
		if m.visibility != nil {
			m.visibility.Set(true)
		}
		return m, nil

	case tea.BlurMsg:
		if m.visibility != nil {
			m.visibility.Set(false)
		}
		return m, nil

	case changedMsg:
		m.clampCursor()
		return m, m.waitForChange()

	case refreshedMsg:
		m.clampCursor()
		return m, nil

	case errMsg:
		m.message = msg.err.Error()
		utils.Debugf("tui: %v", msg.err)
		return m, nil

	case infoMsg:
		m.message = msg.text
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeAdd, ModeEdit:
			return m.handleInputMode(msg)
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}
		return m.handleNormalMode(msg)
	}

	if m.mode == ModeAdd || m.mode == ModeEdit {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.pane = (m.pane + 1) % paneCount
		m.message = ""
		return m, nil

	case "shift+tab":
		m.pane = (m.pane + paneCount - 1) % paneCount
		m.message = ""
		return m, nil

	case "up", "k":
		if m.cursor[m.pane] > 0 {
			m.cursor[m.pane]--
		}
		return m, nil

	case "down", "j":
		if m.cursor[m.pane] < len(m.rows())-1 {
			m.cursor[m.pane]++
		}
		return m, nil

	case "a":
		if !m.paneAvailable() {
			return m, nil
		}
		m.mode = ModeAdd
		m.textInput.Reset()
		m.textInput.Placeholder = m.addPlaceholder()
		m.textInput.Focus()
		return m, textinput.Blink

	case "e":
		r, ok := m.selected()
		if !ok {
			return m, nil
		}
		value, ok := m.editValue(r.id)
		if !ok {
			return m, nil
		}
		m.mode = ModeEdit
		m.editingID = r.id
		m.textInput.Reset()
		m.textInput.Placeholder = m.addPlaceholder()
		m.textInput.SetValue(value)
		m.textInput.CursorEnd()
		m.textInput.Focus()
		return m, textinput.Blink

	case " ", "space":
		return m, m.toggleSelected()

	case "d":
		if _, ok := m.selected(); ok {
			m.mode = ModeConfirmDelete
		}
		return m, nil

	case "r":
		return m, m.refresh()

	case "f":
		if m.pane == PaneTodos {
			m.filter = m.filter.Next()
			m.cursor[PaneTodos] = 0
		}
		return m, nil

	case "[":
		return m, m.shiftMonth(-1)

	case "]":
		return m, m.shiftMonth(1)

	case "?":
		m.mode = ModeHelp
		return m, nil
	}
	return m, nil
}

func (m *Model) handleInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := strings.TrimSpace(m.textInput.Value())
		mode := m.mode
		m.mode = ModeNormal
		if value == "" {
			return m, nil
		}
		if mode == ModeEdit {
			return m, m.edit(m.editingID, value)
		}
		return m, m.add(value)

	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		return m, m.deleteSelected()
	case "n", "N", "esc":
		m.mode = ModeNormal
	}
	return m, nil
}

func (m *Model) paneAvailable() bool {
	switch m.pane {
	case PaneTodos:
		return m.todos != nil
	case PaneCalendar:
		return m.calendar != nil
	case PaneMemos:
		return m.memos != nil
	}
	return false
}

func (m *Model) addPlaceholder() string {
	switch m.pane {
	case PaneCalendar:
		return "2026-03-14 18:30 Dinner at grandma's"
	case PaneMemos:
		return "New memo..."
	}
	return "New todo..."
}

// mutate runs fn off the UI goroutine. The optimistic change is already
// visible through the controller subscription; only failures come back.
func mutate(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) add(value string) tea.Cmd {
	switch m.pane {
	case PaneTodos:
		return mutate(func() error {
			_, err := m.todos.Add(m.ctx, backend.Todo{Title: value})
			return err
		})
	case PaneCalendar:
		event, err := ParseEventInput(value, m.now())
		if err != nil {
			m.message = err.Error()
			return nil
		}
		return mutate(func() error {
			_, err := m.calendar.Add(m.ctx, event)
			return err
		})
	case PaneMemos:
		return mutate(func() error {
			_, err := m.memos.Add(m.ctx, backend.Memo{Content: value})
			return err
		})
	}
	return nil
}

// editValue renders the editable text of an item, in the same form add
// accepts.
func (m *Model) editValue(id string) (string, bool) {
	switch m.pane {
	case PaneTodos:
		if t, ok := m.todos.Get(id); ok {
			return t.Title, true
		}
	case PaneCalendar:
		if e, ok := m.calendar.Get(id); ok {
			return FormatEventInput(e), true
		}
	case PaneMemos:
		if memo, ok := m.memos.Get(id); ok {
			return memo.Content, true
		}
	}
	return "", false
}

func (m *Model) edit(id, value string) tea.Cmd {
	switch m.pane {
	case PaneTodos:
		return mutate(func() error {
			return m.todos.Update(m.ctx, id, backend.TodoPatch{Title: &value})
		})
	case PaneCalendar:
		event, err := ParseEventInput(value, m.now())
		if err != nil {
			m.message = err.Error()
			return nil
		}
		patch := backend.EventPatch{Title: &event.Title, Date: &event.Date, Time: &event.Time}
		return mutate(func() error { return m.calendar.Update(m.ctx, id, patch) })
	case PaneMemos:
		return mutate(func() error {
			return m.memos.Update(m.ctx, id, backend.MemoPatch{Content: &value})
		})
	}
	return nil
}

func (m *Model) toggleSelected() tea.Cmd {
	r, ok := m.selected()
	if !ok {
		return nil
	}
	switch m.pane {
	case PaneTodos:
		return mutate(func() error { return m.todos.Toggle(m.ctx, r.id) })
	case PaneMemos:
		return mutate(func() error { return m.memos.TogglePin(m.ctx, r.id) })
	}
	return nil
}

func (m *Model) deleteSelected() tea.Cmd {
	r, ok := m.selected()
	if !ok {
		return nil
	}
	switch m.pane {
	case PaneTodos:
		return mutate(func() error { return m.todos.Remove(m.ctx, r.id) })
	case PaneCalendar:
		return mutate(func() error { return m.calendar.Remove(m.ctx, r.id) })
	case PaneMemos:
		return mutate(func() error { return m.memos.Remove(m.ctx, r.id) })
	}
	return nil
}

func (m *Model) refresh() tea.Cmd {
	if !m.paneAvailable() {
		return nil
	}
	m.message = "Refreshing..."
	var refresh func(context.Context) error
	switch m.pane {
	case PaneTodos:
		refresh = m.todos.Refresh
	case PaneCalendar:
		refresh = m.calendar.Refresh
	case PaneMemos:
		refresh = m.memos.Refresh
	}
	return func() tea.Msg {
		if err := refresh(m.ctx); err != nil {
			return errMsg{err}
		}
		return infoMsg{"Up to date"}
	}
}

func (m *Model) shiftMonth(delta int) tea.Cmd {
	if m.pane != PaneCalendar || m.calendar == nil {
		return nil
	}
	m.cursor[PaneCalendar] = 0
	return func() tea.Msg {
		if delta < 0 {
			m.calendar.PrevMonth(m.ctx)
		} else {
			m.calendar.NextMonth(m.ctx)
		}
		return refreshedMsg{}
	}
}

// rows lists the selectable lines of the current pane.
func (m *Model) rows() []row {
	var rows []row
	switch m.pane {
	case PaneTodos:
		if m.todos == nil {
			return nil
		}
		for _, t := range m.todos.Visible(m.filter) {
			rows = append(rows, row{id: t.ID, text: todoLine(t), done: t.Completed, pending: m.todos.IsPending(t.ID)})
		}
	case PaneCalendar:
		if m.calendar == nil {
			return nil
		}
		events := m.calendar.Items()
		for _, week := range m.calendar.Weeks() {
			for _, day := range week {
				if day.IsZero() {
					continue
				}
				for _, e := range collection.EventsOn(events, day) {
					rows = append(rows, row{id: e.ID, text: eventLine(day, e), pending: m.calendar.IsPending(e.ID)})
				}
			}
		}
	case PaneMemos:
		if m.memos == nil {
			return nil
		}
		for _, memo := range m.memos.Visible() {
			rows = append(rows, row{id: memo.ID, text: memoLine(memo), pending: m.memos.IsPending(memo.ID)})
		}
	}
	return rows
}

func (m *Model) selected() (row, bool) {
	rows := m.rows()
	c := m.cursor[m.pane]
	if c < 0 || c >= len(rows) {
		return row{}, false
	}
	return rows[c], true
}

func (m *Model) clampCursor() {
	n := len(m.rows())
	if m.cursor[m.pane] >= n {
		m.cursor[m.pane] = max(n-1, 0)
	}
}

func todoLine(t backend.Todo) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	line := box + " " + t.Title
	if t.Priority != "" && t.Priority != backend.PriorityMedium {
		line += " (" + string(t.Priority) + ")"
	}
	if t.DueDate != "" {
		line += "  due " + t.DueDate
	}
	return line
}

func eventLine(day time.Time, e backend.Event) string {
	at := "all day"
	if e.Time != "" {
		at = e.Time
	}
	return fmt.Sprintf("%s  %-7s  %s", day.Format("Mon 02"), at, e.Title)
}

func memoLine(memo backend.Memo) string {
	content := strings.ReplaceAll(memo.Content, "\n", " ")
	if memo.Pinned {
		return "* " + content
	}
	return "  " + content
}

// ParseEventInput reads "<date> [HH:MM] title". The date accepts anything
// utils.ParseDate does; without one the event goes on today.
func ParseEventInput(input string, now time.Time) (backend.Event, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return backend.Event{}, fmt.Errorf("event title is required")
	}

	date, err := utils.ParseDate(fields[0], now)
	if err == nil {
		fields = fields[1:]
	} else {
		date = now.Format(utils.DateLayout)
	}

	var at string
	if len(fields) > 0 {
		if _, err := time.Parse("15:04", fields[0]); err == nil {
			at = fields[0]
			fields = fields[1:]
		}
	}

	title := strings.Join(fields, " ")
	if title == "" {
		return backend.Event{}, fmt.Errorf("event title is required")
	}
	return backend.Event{Title: title, Date: date, Time: at}, nil
}

// FormatEventInput is the inverse of ParseEventInput.
func FormatEventInput(e backend.Event) string {
	date := e.Date
	if len(date) > len(utils.DateLayout) {
		date = date[:len(utils.DateLayout)]
	}
	parts := []string{date}
	if e.Time != "" {
		parts = append(parts, e.Time)
	}
	return strings.Join(append(parts, e.Title), " ")
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeAdd:
		return m.centerDialog(m.dialogStyle.Render(fmt.Sprintf("Add to %s\n\n%s\n\n%s",
			m.pane, m.textInput.View(), m.helpStyle.Render("enter: save  esc: cancel"))))
	case ModeEdit:
		return m.centerDialog(m.dialogStyle.Render(fmt.Sprintf("Edit in %s\n\n%s\n\n%s",
			m.pane, m.textInput.View(), m.helpStyle.Render("enter: save  esc: cancel"))))
	case ModeConfirmDelete:
		r, _ := m.selected()
		return m.centerDialog(m.dialogStyle.Render(fmt.Sprintf("Delete %q?\n\n%s",
			strings.TrimSpace(r.text), m.helpStyle.Render("y: delete  n: cancel"))))
	case ModeHelp:
		return m.centerDialog(m.dialogStyle.Render(m.renderHelp()))
	}

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.paneStyle.Width(m.width - 2).Height(m.height - 5).Render(m.renderPane()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderTabs() string {
	tabs := make([]string, 0, paneCount)
	for p := Pane(0); p < paneCount; p++ {
		if p == m.pane {
			tabs = append(tabs, m.activeTabStyle.Render(p.String()))
		} else {
			tabs = append(tabs, m.tabStyle.Render(p.String()))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderPane() string {
	if !m.paneAvailable() {
		return m.helpStyle.Render("Not available")
	}

	var b strings.Builder
	switch m.pane {
	case PaneTodos:
		active, completed := m.todos.Counts()
		b.WriteString(m.helpStyle.Render(fmt.Sprintf("%d active, %d completed  filter: %s", active, completed, m.filter)))
		b.WriteString("\n\n")
	case PaneCalendar:
		b.WriteString(m.renderMonth())
		b.WriteString("\n")
	}

	rows := m.rows()
	if len(rows) == 0 {
		b.WriteString(m.helpStyle.Render("Nothing here yet. Press a to add."))
		return b.String()
	}
	for i, r := range rows {
		line := r.text
		switch {
		case r.pending:
			line = m.pendingStyle.Render(line + "  (saving)")
		case r.done:
			line = m.completedStyle.Render(line)
		}
		if i == m.cursor[m.pane] {
			b.WriteString(m.selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderMonth draws the month grid with event days highlighted.
func (m *Model) renderMonth() string {
	var b strings.Builder
	b.WriteString(m.selectedStyle.Render(m.calendar.MonthLabel()))
	b.WriteString("\n")
	b.WriteString(m.helpStyle.Render("Su Mo Tu We Th Fr Sa"))
	b.WriteString("\n")

	events := m.calendar.Items()
	for _, week := range m.calendar.Weeks() {
		cells := make([]string, 7)
		for i, day := range week {
			switch {
			case day.IsZero():
				cells[i] = "  "
			case len(collection.EventsOn(events, day)) > 0:
				cells[i] = m.eventDayStyle.Render(fmt.Sprintf("%2d", day.Day()))
			default:
				cells[i] = fmt.Sprintf("%2d", day.Day())
			}
		}
		b.WriteString(strings.Join(cells, " "))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) paneStatus() collection.Status {
	switch m.pane {
	case PaneTodos:
		if m.todos != nil {
			return m.todos.Status()
		}
	case PaneCalendar:
		if m.calendar != nil {
			return m.calendar.Status()
		}
	case PaneMemos:
		if m.memos != nil {
			return m.memos.Status()
		}
	}
	return collection.Status{}
}

func (m *Model) renderStatusBar() string {
	var parts []string
	if m.online != nil {
		if m.online.Get() {
			parts = append(parts, "online")
		} else {
			parts = append(parts, "offline")
		}
	}

	status := m.paneStatus()
	switch {
	case !status.LastSuccess.IsZero():
		parts = append(parts, "updated "+status.LastSuccess.Format("15:04:05"))
	case !status.SnapshotAt.IsZero():
		parts = append(parts, "cached "+status.SnapshotAt.Format("Jan 2 15:04"))
	}

	bar := strings.Join(parts, " | ")
	if m.message != "" {
		bar += "  " + m.errorStyle.Render(m.message)
	} else if status.LastError != nil {
		bar += "  " + m.errorStyle.Render(status.LastError.Error())
	}

	help := m.helpStyle.Render("tab: pane  a: add  e: edit  space: toggle  d: delete  r: refresh  ?: help  q: quit")
	return m.statusBarStyle.Width(m.width).Render(bar) + "\n" + help
}

func (m *Model) renderHelp() string {
	return strings.Join([]string{
		"Keys",
		"",
		"tab / shift+tab  switch pane",
		"j / k            move",
		"a                add",
		"e                edit",
		"space            toggle todo / pin memo",
		"d                delete",
		"r                refresh now",
		"f                cycle todo filter",
		"[ / ]            previous / next month",
		"q                quit",
		"",
		m.helpStyle.Render("press any key to close"),
	}, "\n")
}

func (m *Model) centerDialog(dialog string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, dialog)
}
