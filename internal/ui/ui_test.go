package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/groceries/internal/model"
)

func plain(t *testing.T) {
	t.Helper()
	SetTheme("mono")
	t.Cleanup(func() { SetTheme("classic") })
}

func TestItemLines_GroupsAndMarkers(t *testing.T) {
	plain(t)
	items := []model.DisplayItem{
		{Key: "a", ID: "a", Name: "Apples", Quantity: 3, Group: "A", GroupStart: true},
		{Key: "b", ID: "b", Name: "Avocado", Quantity: 1, Checked: true, Group: "A"},
		{Key: "tmp", TempID: "tmp", Name: "Milk", Quantity: 1, Pending: true, Group: "Dairy", GroupStart: true},
	}
	require.Equal(t, []string{
		"A",
		" 1. [ ] Apples ×3",
		" 2. [x] Avocado",
		"",
		"Dairy",
		" 3. [ ] Milk ...",
	}, ItemLines(items))
}

func TestItemLines_Empty(t *testing.T) {
	plain(t)
	require.Equal(t, []string{"the list is empty"}, ItemLines(nil))
}

func TestHeader(t *testing.T) {
	plain(t)
	h := Header("Groceries", []model.DisplayItem{{Checked: true}, {}, {}})
	require.Equal(t, "Groceries  x 1  - 2  Total 3", h)
}

func TestPanel_PadsToWidestLine(t *testing.T) {
	plain(t)
	var buf bytes.Buffer
	Panel(&buf, []string{"ab", "Ü×2"})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, []string{"+-----+", "| ab  |", "| Ü×2 |", "+-----+"}, lines)
}

func TestProgressBar(t *testing.T) {
	require.Equal(t, "█████░░░░░  50%", ProgressBar(1, 2, 10))
	require.Equal(t, "░░░░░   0%", ProgressBar(0, 0, 1))
}

func TestOKAndFail(t *testing.T) {
	plain(t)
	var buf bytes.Buffer
	OK(&buf, "added")
	Fail(&buf, "nope")
	require.Equal(t, "✔ added\n✖ nope\n", buf.String())
}

func TestPanel_IgnoresColorCodes(t *testing.T) {
	SetTheme("mono")
	SetColorForcing(true, false)
	t.Cleanup(func() {
		SetColorForcing(false, false)
		SetTheme("classic")
	})
	var buf bytes.Buffer
	Panel(&buf, []string{fgRed + "ab" + reset, "abcd"})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, "| "+fgRed+"ab"+reset+"   |", lines[1])
	require.Equal(t, "| abcd |", lines[2])
}
