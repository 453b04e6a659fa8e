package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/model"
)

// applyMsg carries a session completion onto the Update goroutine.
type applyMsg struct{ fn func() }

type field int

const (
	fieldName field = iota
	fieldCategory
	fieldQuantity
)

type keyMap struct {
	toggle, remove, add, undo, clear, refresh, dismiss, quit key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "check")),
		remove:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		undo:    key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo delete")),
		clear:   key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "clear list")),
		refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		dismiss: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss error")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) short() []key.Binding {
	return []key.Binding{k.add, k.remove, k.undo, k.clear, k.refresh}
}

type modelTUI struct {
	s      *listsync.Session
	listID string
	title  string
	keys   keyMap
	list   list.Model

	width, height int

	// Inline add
	adding bool
	focus  field
	name   textinput.Model
	cat    textinput.Model
	qty    int
	addErr string

	confirmClear bool
	flash        string

	// Undo support (single-level): re-adds the last deleted item
	undo *listsync.AddInput
}

func newModel(s *listsync.Session, listID, title string) modelTUI {
	keys := newKeyMap()
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")
	l.KeyMap.Quit.SetEnabled(false)
	l.AdditionalShortHelpKeys = keys.short
	l.AdditionalFullHelpKeys = func() []key.Binding {
		return append(keys.short(), keys.toggle, keys.dismiss)
	}

	name := textinput.New()
	name.Prompt = "name: "
	name.Placeholder = "Milk"
	name.CharLimit = 200
	cat := textinput.New()
	cat.Prompt = "category: "
	cat.Placeholder = "optional"
	cat.CharLimit = 60

	m := modelTUI{
		s:      s,
		listID: listID,
		title:  title,
		keys:   keys,
		list:   l,
		name:   name,
		cat:    cat,
		qty:    listsync.MinQuantity,
		width:  80,
		height: 24,
	}
	m.list.SetSize(m.width-4, m.height-5)
	m.list.Title = m.header()
	return m
}

func (m modelTUI) Init() tea.Cmd {
	s, listID := m.s, m.listID
	return func() tea.Msg {
		return applyMsg{fn: func() { _ = s.Open(listID) }}
	}
}

func (m modelTUI) header() string {
	items := m.s.Items()
	var done, left int
	for _, it := range items {
		if it.Checked {
			done++
		} else {
			left++
		}
	}
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		titleStyle.Render(m.title),
		successStyle.Render("✔"), done,
		pendingStyle.Render("•"), left,
		accentStyle.Render("Total"), len(items),
	)
}

// refresh copies the session's display list into the list model, keeping
// the cursor on the same item when it still exists.
func (m *modelTUI) refresh() tea.Cmd {
	var keep string
	if sel, ok := m.list.SelectedItem().(listItem); ok {
		keep = sel.Key
	}
	items := m.s.Items()
	li := make([]list.Item, 0, len(items))
	for _, it := range items {
		li = append(li, listItem{it})
	}
	cmd := m.list.SetItems(li)
	if keep != "" {
		for i, it := range m.list.Items() {
			if it.(listItem).Key == keep {
				m.list.Select(i)
				break
			}
		}
	}
	m.list.Title = m.header()
	return cmd
}

func (m *modelTUI) selected() (model.DisplayItem, bool) {
	it, ok := m.list.SelectedItem().(listItem)
	return it.DisplayItem, ok
}

// report keeps an action's refusal visible until the next keypress.
func (m *modelTUI) report(err error) {
	switch {
	case err == nil:
		m.flash = ""
	case errors.Is(err, listsync.ErrItemNotSaved), errors.Is(err, listsync.ErrAddInFlight):
		m.flash = err.Error()
	default:
		m.flash = model.Describe(err)
	}
}

func (m modelTUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case applyMsg:
		msg.fn()
		return m, m.refresh()
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(m.width-4, max(m.height-5, 3))
		return m, nil
	}

	if m.adding {
		return m.updateAdd(msg)
	}
	if m.confirmClear {
		if k, ok := msg.(tea.KeyMsg); ok {
			m.confirmClear = false
			if k.String() == "y" || k.String() == "Y" {
				m.report(m.s.ClearAll())
				m.undo = nil
				return m, m.refresh()
			}
			return m, nil
		}
	}

	k, ok := msg.(tea.KeyMsg)
	if !ok || m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	m.flash = ""
	switch {
	case key.Matches(k, m.keys.quit):
		return m, tea.Quit
	case key.Matches(k, m.keys.toggle):
		if d, ok := m.selected(); ok {
			m.report(m.s.ToggleItem(d))
		}
		return m, m.refresh()
	case key.Matches(k, m.keys.remove):
		if d, ok := m.selected(); ok {
			err := m.s.DeleteItem(d)
			m.report(err)
			if err == nil {
				m.undo = &listsync.AddInput{Name: d.Name, Quantity: d.Quantity, Category: d.Category}
			}
		}
		return m, m.refresh()
	case key.Matches(k, m.keys.undo):
		if m.undo != nil {
			err := m.s.AddItem(*m.undo)
			m.report(err)
			if err == nil {
				m.undo = nil
			}
		}
		return m, m.refresh()
	case key.Matches(k, m.keys.add):
		m.startAdd()
		return m, textinput.Blink
	case key.Matches(k, m.keys.clear):
		if len(m.s.Items()) > 0 {
			m.confirmClear = true
		}
		return m, nil
	case key.Matches(k, m.keys.refresh):
		m.report(m.s.Refetch())
		return m, m.refresh()
	case key.Matches(k, m.keys.dismiss):
		m.s.DismissError()
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *modelTUI) startAdd() {
	m.adding = true
	m.addErr = ""
	m.qty = listsync.MinQuantity
	m.name.SetValue("")
	m.cat.SetValue("")
	m.setFocus(fieldName)
}

func (m *modelTUI) stopAdd() {
	m.adding = false
	m.name.Blur()
	m.cat.Blur()
}

func (m *modelTUI) setFocus(f field) {
	m.focus = f
	m.name.Blur()
	m.cat.Blur()
	switch f {
	case fieldName:
		m.name.Focus()
	case fieldCategory:
		m.cat.Focus()
	}
}

func (m modelTUI) updateAdd(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "enter":
			err := m.s.AddItem(listsync.AddInput{
				Name:     m.name.Value(),
				Quantity: m.qty,
				Category: m.cat.Value(),
			})
			if err != nil {
				if errors.Is(err, listsync.ErrAddInFlight) {
					m.addErr = "Still saving the previous item"
				} else {
					m.addErr = model.Describe(err)
				}
				return m, nil
			}
			m.stopAdd()
			return m, m.refresh()
		case "esc":
			m.stopAdd()
			return m, nil
		case "tab", "shift+tab":
			step := 1
			if k.String() == "shift+tab" {
				step = 2
			}
			m.setFocus((m.focus + field(step)) % 3)
			return m, nil
		}
		if m.focus == fieldQuantity {
			switch k.String() {
			case "+", "=", "up", "right":
				m.qty = listsync.ClampQuantity(m.qty + 1)
			case "-", "_", "down", "left":
				m.qty = listsync.ClampQuantity(m.qty - 1)
			default:
				if n, err := strconv.Atoi(k.String()); err == nil {
					v := m.qty*10 + n
					if v > listsync.MaxQuantity {
						v = n
					}
					m.qty = listsync.ClampQuantity(v)
				}
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	if m.focus == fieldCategory {
		m.cat, cmd = m.cat.Update(msg)
	} else {
		m.name, cmd = m.name.Update(msg)
	}
	return m, cmd
}

func (m modelTUI) statusLine() string {
	switch {
	case m.flash != "":
		return errorStyle.Render(m.flash)
	case m.s.Error() != "":
		return errorStyle.Render(m.s.Error()) + mutedStyle.Render("  (x to dismiss, r to retry)")
	case m.s.Loading():
		return mutedStyle.Render("syncing…")
	case m.s.Connected():
		return successStyle.Render("● live")
	default:
		return pendingStyle.Render("○ connecting")
	}
}

func (m modelTUI) addForm() string {
	qty := fmt.Sprintf("quantity: %d", m.qty)
	if m.focus == fieldQuantity {
		qty = selectedStyle.Render(qty) + mutedStyle.Render("  +/- to change")
	}
	title := "Add item"
	if m.addErr != "" {
		title += "  " + errorStyle.Render(m.addErr)
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(strings.Join([]string{title, m.name.View(), m.cat.View(), qty}, "\n"))
}

func (m modelTUI) View() string {
	extra := 5
	if m.adding {
		extra += 6
	}
	if m.confirmClear {
		extra++
	}
	m.list.SetSize(m.width-4, max(m.height-extra, 3))

	parts := []string{m.list.View()}
	if m.adding {
		parts = append(parts, m.addForm())
	}
	if m.confirmClear {
		parts = append(parts, errorStyle.Render("Remove every item from this list? (y/N)"))
	}
	parts = append(parts, m.statusLine())
	return panelString(strings.Join(parts, "\n"))
}

// Run opens listID in a full-screen list until the user quits.
func Run(src listsync.Source, opts listsync.Options, listID, title string) error {
	var p *tea.Program
	opts.Dispatcher = listsync.DispatchFunc(func(fn func()) { p.Send(applyMsg{fn: fn}) })
	s := listsync.New(src, opts)
	defer s.Close()

	p = tea.NewProgram(newModel(s, listID, title), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
