package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/ui"
)

const groupWidth = 14

// listItem adapts a DisplayItem to bubbles/list.Item
type listItem struct {
	model.DisplayItem
}

func (i listItem) Title() string       { return i.Name }
func (i listItem) Description() string { return i.Category }
func (i listItem) FilterValue() string { return i.Name + " " + i.Category }

// Single line rows; the group name is shown in a left column on the first
// row of each group.
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(listItem)
	if !ok {
		return
	}
	fmt.Fprintln(w, renderRow(it.DisplayItem, index == m.Index(), m.FilterState() == list.Unfiltered))
}

func renderRow(it model.DisplayItem, selected, showGroup bool) string {
	group := ""
	if showGroup && it.GroupStart {
		group = runewidth.Truncate(it.Group, groupWidth-1, "…")
	}
	group = groupStyle.Render(runewidth.FillRight(group, groupWidth))

	unchecked, checked := boxes()
	box := mutedStyle.Render(unchecked)
	name := it.Name + ui.Quantity(it.Quantity)
	if it.Checked {
		box = successStyle.Render(checked)
		name = doneStyle.Render(name)
	}
	if it.Pending {
		name = mutedStyle.Render(name) + " " + pendingStyle.Render(ui.Current().SymPending)
	}

	prefix := "  "
	if selected {
		prefix = selectedStyle.Render("> ")
	}
	return strings.TrimRight(prefix+group+box+" "+name, " ")
}
