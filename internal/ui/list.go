package ui

import (
	"fmt"

	"github.com/mattn/go-runewidth"

	"github.com/idilsaglam/groceries/internal/model"
)

const maxNameWidth = 60

// Stats counts checked and remaining items.
func Stats(items []model.DisplayItem) (checked, remaining int) {
	for _, it := range items {
		if it.Checked {
			checked++
		} else {
			remaining++
		}
	}
	return
}

// Header is the title line with live counts.
func Header(title string, items []model.DisplayItem) string {
	t := Current()
	c, r := Stats(items)
	return fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		C(t.Title, title),
		C(t.Success, t.SymDone), c,
		C(t.Pending, t.SymUnchecked), r,
		C(t.Accent, "Total"), len(items),
	)
}

// Quantity renders "×N" for quantities above one.
func Quantity(q int) string {
	if q <= 1 {
		return ""
	}
	return fmt.Sprintf(" ×%d", q)
}

// ItemLines renders the display list with a header above each group and
// 1-based indexes matching the order of items.
func ItemLines(items []model.DisplayItem) []string {
	t := Current()
	if len(items) == 0 {
		return []string{C(t.Muted, "the list is empty")}
	}
	out := make([]string, 0, len(items)+8)
	for i, it := range items {
		if it.GroupStart {
			if i > 0 {
				out = append(out, "")
			}
			out = append(out, C(t.Group, it.Group))
		}
		box, color := t.BoxUnchecked, t.Muted
		if it.Checked {
			box, color = t.BoxChecked, t.Success
		}
		name := runewidth.Truncate(it.Name, maxNameWidth, "...")
		line := fmt.Sprintf("%s %s %s%s", C(dim, fmt.Sprintf("%2d.", i+1)), C(color, box), name, Quantity(it.Quantity))
		if it.Pending {
			line += " " + C(t.Pending, t.SymPending)
		}
		out = append(out, line)
	}
	return out
}
