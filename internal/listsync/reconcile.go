package listsync

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/idilsaglam/groceries/internal/model"
)

// OtherGroup is the group key for items with neither category nor name.
const OtherGroup = "Other"

// Reconcile merges the cached items with the pending overlay into the
// ordered, de-duplicated list to display. It does not modify its inputs.
func Reconcile(cache []model.Item, st OverlayState) []model.DisplayItem {
	out := make([]model.DisplayItem, 0, len(cache)+len(st.Adds))
	seen := make(map[string]bool, len(cache)+len(st.Adds))
	inCache := make(map[string]bool, len(cache))
	for _, it := range cache {
		inCache[it.ID] = true
	}

	// Pending adds go first, newest on top.
	for i := len(st.Adds) - 1; i >= 0; i-- {
		a := st.Adds[i]
		if superseded(a.ResolvedID, func(id string) bool { return inCache[id] }) {
			continue
		}
		if a.ResolvedID != "" && st.Deletes[a.ResolvedID] {
			continue
		}
		d := model.DisplayItem{
			Key:      a.TempID,
			ID:       a.ResolvedID,
			TempID:   a.TempID,
			Name:     a.Fields.Name,
			Quantity: a.Fields.Quantity,
			Category: a.Fields.Category,
			AddedBy:  a.Fields.AddedBy,
			Pending:  true,
		}
		if a.ResolvedID != "" {
			d.Key = a.ResolvedID
			if checked, ok := st.Toggles[a.ResolvedID]; ok {
				d.Checked = checked
			}
		}
		if seen[d.Key] {
			continue
		}
		seen[d.Key] = true
		out = append(out, d)
	}

	for _, it := range cache {
		if st.Deletes[it.ID] || seen[it.ID] {
			continue
		}
		d := model.DisplayItem{
			Key:      it.ID,
			ID:       it.ID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Checked:  it.Checked,
			Category: it.Category,
			AddedBy:  it.AddedBy,
		}
		if checked, ok := st.Toggles[it.ID]; ok {
			d.Checked = checked
			d.Pending = true
		}
		seen[d.Key] = true
		out = append(out, d)
	}

	sortForDisplay(out)
	return out
}

// GroupKey is the trimmed category, else the uppercased first letter of
// the name, else OtherGroup.
func GroupKey(name, category string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return OtherGroup
	}
	r, _ := utf8.DecodeRuneInString(n)
	return strings.ToUpper(string(r))
}

func sortForDisplay(items []model.DisplayItem) {
	for i := range items {
		items[i].Group = GroupKey(items[i].Name, items[i].Category)
	}
	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(items, func(i, j int) bool {
		if c := col.CompareString(items[i].Group, items[j].Group); c != 0 {
			return c < 0
		}
		return col.CompareString(strings.TrimSpace(items[i].Name), strings.TrimSpace(items[j].Name)) < 0
	})
	for i := range items {
		items[i].GroupStart = i == 0 || col.CompareString(items[i-1].Group, items[i].Group) != 0
	}
}

// Group is one contiguous run of display items sharing a group key.
type Group struct {
	Key   string
	Start int // inclusive
	End   int // exclusive
}

// Groups splits a reconciled list into its header runs.
func Groups(items []model.DisplayItem) []Group {
	var out []Group
	for i, it := range items {
		if it.GroupStart || len(out) == 0 {
			out = append(out, Group{Key: it.Group, Start: i, End: i + 1})
			continue
		}
		out[len(out)-1].End = i + 1
	}
	return out
}
