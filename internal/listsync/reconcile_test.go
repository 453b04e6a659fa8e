package listsync

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/groceries/internal/model"
)

func TestCache_UpsertKeepsCreationOrder(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple"), item("b", "Bread"), item("a", "Apples")})
	require.Equal(t, 2, c.Len())

	c.Upsert(model.Item{ID: "b", Name: "Bread", Checked: true})
	c.Upsert(item("c", "Cheese"))
	got := c.Items()
	require.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	require.Equal(t, "Apples", got[0].Name)
	require.True(t, got[1].Checked)

	require.True(t, c.Remove("a"))
	require.False(t, c.Remove("a"))
	it, ok := c.Get("c")
	require.True(t, ok)
	require.Equal(t, "Cheese", it.Name)
	require.False(t, c.Contains("a"))
}

func TestReconcile_Grouping(t *testing.T) {
	cache := []model.Item{item("1", "Banaan"), item("2", "Brood"), item("3", "Bonbons")}
	got := Reconcile(cache, NewOverlay().State())

	require.Equal(t, []string{"Banaan", "Bonbons", "Brood"}, []string{got[0].Name, got[1].Name, got[2].Name})
	groups := Groups(got)
	require.Len(t, groups, 1)
	require.Equal(t, Group{Key: "B", Start: 0, End: 3}, groups[0])
	require.True(t, got[0].GroupStart)
	require.False(t, got[1].GroupStart)
	require.False(t, got[2].GroupStart)
}

func TestReconcile_GroupKeys(t *testing.T) {
	cases := []struct {
		name, category, want string
	}{
		{"milk", "", "M"},
		{"  eggs", "", "E"},
		{"Milk", "  Dairy ", "Dairy"},
		{"", "", OtherGroup},
		{"éclair", "", "É"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, GroupKey(tc.name, tc.category), "name=%q category=%q", tc.name, tc.category)
	}
}

func TestReconcile_CaseInsensitiveAndStable(t *testing.T) {
	cache := []model.Item{
		{ID: "1", Name: "milk", Category: "dairy"},
		{ID: "2", Name: "apple"},
		{ID: "3", Name: "Cheese", Category: "Dairy"},
		{ID: "4", Name: "Apple"},
		{ID: "5", Name: "avocado"},
	}
	got := Reconcile(cache, NewOverlay().State())
	require.Equal(t, []string{"2", "4", "5", "3", "1"}, keys(got))

	groups := Groups(got)
	require.Len(t, groups, 2)
	require.Equal(t, "A", groups[0].Key)
	require.Equal(t, 3, groups[1].Start)
}

func TestReconcile_DeleteSuppression(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple"), item("b", "Bread")})
	o := NewOverlay()
	o.MarkPendingDelete("a")

	o.Retire(c)
	require.Equal(t, []string{"b"}, keys(Reconcile(c.Items(), o.State())))

	// A realtime update for the doomed row does not bring it back.
	c.Upsert(model.Item{ID: "a", Name: "Apple", Checked: true})
	o.Retire(c)
	require.Equal(t, []string{"b"}, keys(Reconcile(c.Items(), o.State())))

	// Confirmed: the cache lost the row, the entry retires itself.
	c.Remove("a")
	require.Equal(t, 1, o.Retire(c))
	require.False(t, o.PendingDeleted("a"))
	require.Equal(t, []string{"b"}, keys(Reconcile(c.Items(), o.State())))
}

func TestReconcile_DeleteRollbackRestores(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple")})
	o := NewOverlay()
	before := Reconcile(c.Items(), o.State())

	o.MarkPendingDelete("a")
	require.Empty(t, Reconcile(c.Items(), o.State()))
	o.ClearPendingDelete("a")
	require.Equal(t, before, Reconcile(c.Items(), o.State()))
}

func TestReconcile_DeleteHoldsAreCounted(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple")})
	o := NewOverlay()
	o.MarkPendingDelete("a") // single delete
	o.MarkPendingDelete("a") // clear all

	o.ClearPendingDelete("a")
	require.Empty(t, Reconcile(c.Items(), o.State()))
	o.ClearPendingDelete("a")
	require.Len(t, Reconcile(c.Items(), o.State()), 1)
}

func TestReconcile_ToggleConvergence(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple")})
	o := NewOverlay()
	o.SetPendingToggle("a", true)

	got := Reconcile(c.Items(), o.State())
	require.True(t, got[0].Checked)
	require.True(t, got[0].Pending)

	c.Upsert(model.Item{ID: "a", Name: "Apple", Quantity: 1, Checked: true})
	require.Equal(t, 1, o.Retire(c))
	_, pending := o.Toggle("a")
	require.False(t, pending)

	got = Reconcile(c.Items(), o.State())
	require.True(t, got[0].Checked)
	require.False(t, got[0].Pending)
}

func TestReconcile_QuickToggleBackSettlesOnLastEcho(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple")})
	o := NewOverlay()
	o.SetPendingToggle("a", true)
	o.SetPendingToggle("a", false)

	// the second toggle matches the cache, so it retires right away
	require.Equal(t, 1, o.Retire(c))
	_, pending := o.Toggle("a")
	require.False(t, pending)

	// the first call's echo shows briefly
	c.Upsert(model.Item{ID: "a", ListID: "list-1", Name: "Apple", Quantity: 1, Checked: true})
	require.True(t, Reconcile(c.Items(), o.State())[0].Checked)

	c.Upsert(model.Item{ID: "a", ListID: "list-1", Name: "Apple", Quantity: 1, Checked: false})
	got := Reconcile(c.Items(), o.State())
	require.False(t, got[0].Checked)
	require.False(t, got[0].Pending)
}

func TestReconcile_ToggleRollbackRestoresPriorState(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{{ID: "a", Name: "Apple", Checked: false}})
	o := NewOverlay()
	before := Reconcile(c.Items(), o.State())

	seq := o.SetPendingToggle("a", true)
	require.NotEqual(t, before, Reconcile(c.Items(), o.State()))
	require.True(t, o.RollbackToggle("a", seq))
	require.Equal(t, before, Reconcile(c.Items(), o.State()))
}

func TestReconcile_OlderToggleRollbackKeepsNewer(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{{ID: "a", Name: "Apple"}})
	o := NewOverlay()

	first := o.SetPendingToggle("a", true)
	o.SetPendingToggle("a", false)
	require.False(t, o.RollbackToggle("a", first))
	checked, ok := o.Toggle("a")
	require.True(t, ok)
	require.False(t, checked)
}

func TestReconcile_AddThenRollback(t *testing.T) {
	o := NewOverlay()
	o.AddPending("tmp1", model.NewItem{Name: "Milk", Quantity: 2})

	got := Reconcile(nil, o.State())
	require.Len(t, got, 1)
	require.Equal(t, "tmp1", got[0].Key)
	require.Equal(t, "Milk", got[0].Name)
	require.Equal(t, 2, got[0].Quantity)
	require.True(t, got[0].Pending)
	require.False(t, got[0].Saved())

	require.True(t, o.RollbackAdd("tmp1"))
	require.Empty(t, Reconcile(nil, o.State()))
	require.Zero(t, o.Len())
}

func TestReconcile_AddResolutionIdempotent(t *testing.T) {
	c := NewCache()
	o := NewOverlay()
	o.AddPending("tmp1", model.NewItem{Name: "Milk", Quantity: 2})

	o.ResolveAdd("tmp1", "real-1")
	o.ResolveAdd("tmp1", "real-1")
	got := Reconcile(c.Items(), o.State())
	require.Equal(t, []string{"real-1"}, keys(got))
	require.True(t, got[0].Pending)

	// Realtime insert arrives: the authoritative row replaces the pending one.
	c.Upsert(model.Item{ID: "real-1", Name: "Milk", Quantity: 2})
	got = Reconcile(c.Items(), o.State())
	require.Equal(t, []string{"real-1"}, keys(got))

	require.Equal(t, 1, o.Retire(c))
	o.ResolveAdd("tmp1", "real-1")
	got = Reconcile(c.Items(), o.State())
	require.Equal(t, []string{"real-1"}, keys(got))
	require.False(t, got[0].Pending)
}

func TestReconcile_InsertEventBeforeResolve(t *testing.T) {
	c := NewCache()
	o := NewOverlay()
	o.AddPending("tmp1", model.NewItem{Name: "Milk", Quantity: 2, AddedBy: "m1"})

	// The realtime insert beats the insert response.
	row := model.Item{ID: "real-1", Name: "milk", Quantity: 2, AddedBy: "m1"}
	tmp, ok := o.Claim(row)
	require.True(t, ok)
	require.Equal(t, "tmp1", tmp)
	c.Upsert(row)
	require.Equal(t, 1, o.Retire(c))
	require.Equal(t, []string{"real-1"}, keys(Reconcile(c.Items(), o.State())))

	// The response lands afterwards and finds nothing left to resolve.
	o.ResolveAdd("tmp1", "real-1")
	require.Equal(t, []string{"real-1"}, keys(Reconcile(c.Items(), o.State())))
	require.Zero(t, o.Len())
}

func TestReconcile_ClaimIgnoresOtherMembers(t *testing.T) {
	o := NewOverlay()
	o.AddPending("tmp1", model.NewItem{Name: "Milk", Quantity: 2, AddedBy: "m1"})

	_, ok := o.Claim(model.Item{ID: "x", Name: "Milk", Quantity: 2, AddedBy: "m2"})
	require.False(t, ok)
	_, ok = o.Claim(model.Item{ID: "y", Name: "Milk", Quantity: 3, AddedBy: "m1"})
	require.False(t, ok)
	a, _ := o.Add("tmp1")
	require.Empty(t, a.ResolvedID)
}

func TestReconcile_DependentEntriesWaitForResolvedAdd(t *testing.T) {
	c := NewCache()
	o := NewOverlay()
	o.AddPending("tmp1", model.NewItem{Name: "Milk", Quantity: 1})
	o.ResolveAdd("tmp1", "real-1")

	o.SetPendingToggle("real-1", true)
	require.Zero(t, o.Retire(c))
	got := Reconcile(c.Items(), o.State())
	require.True(t, got[0].Checked)

	o.MarkPendingDelete("real-1")
	require.Zero(t, o.Retire(c))
	require.Empty(t, Reconcile(c.Items(), o.State()))

	c.Upsert(model.Item{ID: "real-1", Name: "Milk", Quantity: 1})
	o.Retire(c)
	require.Empty(t, Reconcile(c.Items(), o.State()))

	c.Remove("real-1")
	o.Retire(c)
	require.Zero(t, o.Len())
}

func TestReconcile_RetireSettledOnSnapshot(t *testing.T) {
	c := NewCache()
	c.ReplaceAll([]model.Item{item("a", "Apple"), item("b", "Bread")})
	o := NewOverlay()

	seq := o.SetPendingToggle("a", true)
	o.SettleToggle("a", seq)
	o.MarkPendingDelete("b")
	o.SettleDelete("b")
	o.AddPending("tmp1", model.NewItem{Name: "Cake", Quantity: 1})
	o.ResolveAdd("tmp1", "real-c")
	mark := o.Mark()
	late := o.SetPendingToggle("b", true)

	require.Equal(t, 3, o.RetireSettled(mark))
	_, ok := o.Toggle("a")
	require.False(t, ok)
	require.False(t, o.PendingDeleted("b"))
	_, ok = o.Add("tmp1")
	require.False(t, ok)

	o.SettleToggle("b", late)
	_, ok = o.Toggle("b")
	require.True(t, ok, "settled after the snapshot was requested")
}

// Random interleavings of adds, resolutions, cache upserts and deletes
// must never yield two display items with the same key or show a row
// that is pending delete.
func TestReconcile_NoDuplicateKeysUnderInterleaving(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		c := NewCache()
		o := NewOverlay()
		var temps []string
		next := 0

		for step := 0; step < 200; step++ {
			switch rng.Intn(6) {
			case 0:
				next++
				tmp := fmt.Sprintf("tmp%d", next)
				temps = append(temps, tmp)
				o.AddPending(tmp, model.NewItem{Name: fmt.Sprintf("item %d", next%7), Quantity: 1})
			case 1:
				if len(temps) > 0 {
					tmp := temps[rng.Intn(len(temps))]
					o.ResolveAdd(tmp, "real-"+tmp)
				}
			case 2:
				if len(temps) > 0 {
					tmp := temps[rng.Intn(len(temps))]
					c.Upsert(model.Item{ID: "real-" + tmp, Name: "x", Quantity: 1})
				}
			case 3:
				if len(temps) > 0 {
					o.RollbackAdd(temps[rng.Intn(len(temps))])
				}
			case 4:
				if c.Len() > 0 {
					o.MarkPendingDelete(c.Items()[rng.Intn(c.Len())].ID)
				}
			case 5:
				if c.Len() > 0 {
					o.SetPendingToggle(c.Items()[rng.Intn(c.Len())].ID, rng.Intn(2) == 0)
				}
			}

			o.Retire(c)
			st := o.State()
			got := Reconcile(c.Items(), st)
			seen := map[string]bool{}
			for _, d := range got {
				require.False(t, seen[d.Key], "seed %d step %d: duplicate key %s", seed, step, d.Key)
				seen[d.Key] = true
				if d.ID != "" {
					require.False(t, st.Deletes[d.ID], "seed %d step %d: %s is pending delete", seed, step, d.ID)
				}
			}
			for _, a := range st.Adds {
				require.False(t, a.ResolvedID != "" && c.Contains(a.ResolvedID),
					"seed %d step %d: superseded add %s survived", seed, step, a.TempID)
			}
		}
	}
}

func TestReconcile_WidthVariantsShareOneHeader(t *testing.T) {
	cache := []model.Item{item("1", "Ａb"), item("2", "Ac"), item("3", "Ａd")}
	got := Reconcile(cache, NewOverlay().State())

	require.Equal(t, []string{"1", "2", "3"}, keys(got))
	groups := Groups(got)
	require.Len(t, groups, 1)
	require.Equal(t, 0, groups[0].Start)
	require.Equal(t, 3, groups[0].End)
	require.True(t, got[0].GroupStart)
	require.False(t, got[1].GroupStart)
	require.False(t, got[2].GroupStart)
}
