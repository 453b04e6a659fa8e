package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/groceries/internal/config"
	"github.com/idilsaglam/groceries/internal/devserver"
)

type env struct {
	t     *testing.T
	home  string
	store *devserver.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	home := t.TempDir()
	t.Setenv("GROCERIES_HOME", home)
	t.Setenv("GROCERIES_TOKEN", "")
	t.Setenv("GROCERIES_LIST", "")
	t.Setenv("GROCERIES_THEME", "")

	store, err := devserver.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ts := httptest.NewServer(devserver.New(store, "anon", nil).Handler())
	t.Cleanup(ts.Close)

	t.Setenv("GROCERIES_URL", ts.URL)
	t.Setenv("GROCERIES_ANON_KEY", "anon")
	return &env{t: t, home: home, store: store}
}

type result struct {
	code           int
	stdout, stderr string
}

func (e *env) run(stdin string, args ...string) result {
	e.t.Helper()
	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code := Execute(ctx, args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

type listed struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Checked  bool   `json:"checked"`
	Group    string `json:"group"`
}

func (e *env) list(listID string) []listed {
	e.t.Helper()
	res := e.run("", "ls", "--json", "--list", listID)
	require.Equal(e.t, ExitOK, res.code, res.stderr)
	var items []listed
	require.NoError(e.t, json.Unmarshal([]byte(res.stdout), &items))
	return items
}

func TestCLI_ItemCommands(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "add", "Milk", "-q", "2", "-c", "Dairy", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "added Milk ×2")

	res = e.run("", "add", "Sourdough", "bread", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)

	items := e.list("l")
	require.Len(t, items, 2)
	require.Equal(t, "Dairy", items[0].Group)
	require.Equal(t, "Milk", items[0].Name)
	require.Equal(t, 2, items[0].Quantity)
	require.Equal(t, "Sourdough bread", items[1].Name)
	require.Equal(t, "S", items[1].Group)

	res = e.run("", "done", "1", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "checked Milk")
	require.True(t, e.list("l")[0].Checked)

	res = e.run("", "done", "1", "--list", "l")
	require.Contains(t, res.stdout, "unchecked Milk")

	res = e.run("", "rm", "2", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "removed Sourdough bread")

	res = e.run("", "ls", "--plain", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "Dairy")
	require.Contains(t, res.stdout, "Milk ×2")
	require.NotContains(t, res.stdout, "Sourdough")

	hist, err := e.store.History(context.Background(), "l")
	require.NoError(t, err)
	var actions []string
	for _, h := range hist {
		actions = append(actions, h.Action)
	}
	require.ElementsMatch(t, []string{"add", "add", "delete"}, actions)
}

func TestCLI_ClearAsksFirst(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"Eggs", "Flour"} {
		require.Equal(t, ExitOK, e.run("", "add", name, "--list", "l").code)
	}

	res := e.run("n\n", "clear", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "cancelled")
	require.Len(t, e.list("l"), 2)

	res = e.run("y\n", "clear", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "cleared 2 items")
	require.Empty(t, e.list("l"))

	res = e.run("", "clear", "-y", "--list", "l")
	require.Contains(t, res.stdout, "already empty")
}

func TestCLI_Refresh(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, ExitOK, e.run("", "add", "Tea", "--list", "l").code)
	res := e.run("", "refresh", "--list", "l")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "synced 1 items (0 checked, 1 left)")
}

func TestCLI_UsageErrors(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "rm", "5", "--list", "l")
	require.Equal(t, ExitUsage, res.code)
	require.Contains(t, res.stderr, "index out of range: have 0, got 5")
	require.Contains(t, res.stderr, "Hint:")

	res = e.run("", "done", "two", "--list", "l")
	require.Equal(t, ExitUsage, res.code)
	require.Contains(t, res.stderr, "not a number: two")

	res = e.run("", "add", "--list", "l")
	require.Equal(t, ExitUsage, res.code)
	require.Contains(t, res.stderr, "usage: groceries add")

	res = e.run("", "add", "Milk")
	require.Equal(t, ExitUsage, res.code)
	require.Contains(t, res.stderr, "no list selected")

	res = e.run("", "ls", "--plain", "--bogus")
	require.Equal(t, ExitUsage, res.code)
}

func TestCLI_ListFromConfig(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, ExitOK, e.run("", "config", "set", "list_id", "kitchen").code)
	res := e.run("", "add", "Rice")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Len(t, e.list("kitchen"), 1)
}

func TestCLI_NotConfigured(t *testing.T) {
	e := newEnv(t)
	t.Setenv("GROCERIES_URL", "")
	res := e.run("", "add", "Milk", "--list", "l")
	require.Equal(t, ExitError, res.code)
	require.Contains(t, res.stderr, "Not connected to a backend")
}

func TestCLI_BlankNameIsRejected(t *testing.T) {
	e := newEnv(t)
	res := e.run("", "add", "  ", "--list", "l")
	require.Equal(t, ExitError, res.code)
	require.Contains(t, res.stderr, "Invalid name")
	require.Empty(t, e.list("l"))
}

func TestCLI_Config(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "config", "set", "request_timeout", "3s")
	require.Equal(t, ExitOK, res.code, res.stderr)
	res = e.run("", "config", "set", "url", "ftp://example.com")
	require.Equal(t, ExitUsage, res.code)
	res = e.run("", "config", "set", "colour", "red")
	require.Equal(t, ExitUsage, res.code)
	require.Contains(t, res.stderr, "unknown key")

	c, err := config.LoadFile(filepath.Join(e.home, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, c.RequestTimeout)
	require.NotEmpty(t, c.MemberID)
	// env values are not written back
	require.Empty(t, c.URL)

	res = e.run("", "config", "show")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "request_timeout")
	require.Contains(t, res.stdout, "3s")
	require.NotContains(t, res.stdout, "anon ")

	res = e.run("", "config", "path")
	require.Equal(t, filepath.Join(e.home, "config.yaml")+"\n", res.stdout)
}

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"role":  "authenticated",
		"exp":   exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestCLI_Auth(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "auth", "status")
	require.Contains(t, res.stdout, "not logged in")

	tok := signedToken(t, "member-7", time.Now().Add(time.Hour))
	res = e.run(tok+"\n", "auth", "login")
	require.Equal(t, ExitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "logged in as member-7")

	res = e.run("", "auth", "whoami")
	require.Contains(t, res.stdout, "subject: member-7")
	require.Contains(t, res.stdout, "email: member-7@example.com")

	res = e.run("", "auth", "status")
	require.Contains(t, res.stdout, "source: file")

	require.Equal(t, ExitOK, e.run("", "add", "Oats", "--list", "l").code)
	items, err := e.store.Items(context.Background(), "l")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "member-7", items[0].AddedBy)

	res = e.run("", "auth", "logout")
	require.Contains(t, res.stdout, "logged out")
	res = e.run("", "auth", "whoami")
	require.Equal(t, ExitError, res.code)
}

func TestCLI_ExpiredTokenIsRefused(t *testing.T) {
	e := newEnv(t)
	t.Setenv("GROCERIES_TOKEN", "Bearer "+signedToken(t, "member-7", time.Now().Add(-time.Hour)))
	res := e.run("", "add", "Milk", "--list", "l")
	require.Equal(t, ExitError, res.code)
	require.Contains(t, res.stderr, "expired")

	res = e.run("", "auth", "logout")
	require.Contains(t, res.stdout, "GROCERIES_TOKEN")
}
