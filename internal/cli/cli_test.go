package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "shopfloor", cmd.Use)
	assert.Contains(t, cmd.Long, "public")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"login"}, {"signup"}, {"logout"}, {"demo"}, {"public-demo"}, {"whoami"},
		{"machines", "list"}, {"machines", "watch"}, {"machines", "set-status"},
		{"products", "list"}, {"products", "save"}, {"products", "delete"},
		{"dashboard"}, {"search"},
	}
	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"api", "profile", "public-demo"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	wrapped := WrapExitError(ExitFailure, "load", errors.New("boom"))
	assert.Equal(t, "load: boom", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestParseSpecs(t *testing.T) {
	specs, err := parseSpecs([]string{"range=652 km", " seats = 5 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"range": "652 km", "seats": "5"}, specs)

	_, err = parseSpecs([]string{"novalue"})
	assert.Error(t, err)

	specs, err = parseSpecs(nil)
	require.NoError(t, err)
	assert.Nil(t, specs)
}

type runResult struct {
	stdout string
	stderr string
	err    error
}

// runOffline executes the CLI without a backend against a throwaway profile.
func runOffline(t *testing.T, profile string, args ...string) runResult {
	t.Helper()
	t.Setenv("SHOPFLOOR_API_URL", "")
	t.Setenv("SHOPFLOOR_PUBLIC_DEMO", "")

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--profile", profile}, args...))
	err := cmd.Execute()
	return runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func tempProfile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "profile.yaml")
}

func TestMachinesListOffline(t *testing.T) {
	res := runOffline(t, tempProfile(t), "--format", "json", "machines", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "public demo mode")

	var out machinesOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Len(t, out.Machines, 3)
	assert.Equal(t, 3, out.Stats.Total)
	assert.Equal(t, 2, out.Stats.Operational)
}

func TestMachinesListFilterText(t *testing.T) {
	res := runOffline(t, tempProfile(t), "machines", "list", "--filter", "halle b")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Lackieranlage Gamma")
	assert.NotContains(t, res.stdout, "CNC-Fräse Alpha")
	assert.Contains(t, res.stdout, "STATUS")
}

func TestSetStatusBlockedInPublicDemo(t *testing.T) {
	res := runOffline(t, tempProfile(t), "machines", "set-status", "1", "idle")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "Demo users cannot perform status changes")
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	res := runOffline(t, tempProfile(t), "machines", "set-status", "1", "exploded")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestProductSaveBlockedInPublicDemo(t *testing.T) {
	res := runOffline(t, tempProfile(t), "products", "save", "--model", "Cybertruck")
	require.Error(t, res.err)
	assert.Contains(t, res.stderr, "Demo users cannot perform product changes")
}

func TestDashboardOffline(t *testing.T) {
	res := runOffline(t, tempProfile(t), "--format", "json", "dashboard")
	require.NoError(t, res.err)

	var out dashboardOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, 3, out.TotalProducts)
	assert.Equal(t, 2, out.MachineStatus["operational"])
	assert.Equal(t, 1, out.MachineStatus["maintenance"])
}

func TestSearchOffline(t *testing.T) {
	res := runOffline(t, tempProfile(t), "--format", "json", "search", "alpha")
	require.NoError(t, res.err)

	var out struct {
		Results []struct {
			Type  string `json:"type"`
			Title string `json:"title"`
		} `json:"results"`
		Engine string `json:"engine"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "machine", out.Results[0].Type)
	assert.Equal(t, "CNC-Fräse Alpha", out.Results[0].Title)
	assert.Equal(t, "scan", out.Engine)
}

func TestSearchValidatesFlags(t *testing.T) {
	res := runOffline(t, tempProfile(t), "search", "x", "--type", "employee")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))

	res = runOffline(t, tempProfile(t), "search", "x", "--limit", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestLoginWithoutBackend(t *testing.T) {
	res := runOffline(t, tempProfile(t), "login", "--email", "a@b.c", "--password", "secret")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "Backend is not configured")
}

func TestPublicDemoIsRememberedUntilLogout(t *testing.T) {
	profile := tempProfile(t)

	res := runOffline(t, profile, "public-demo")
	require.NoError(t, res.err)
	data, err := os.ReadFile(profile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "public_demo: true")

	res = runOffline(t, profile, "--format", "json", "whoami")
	require.NoError(t, res.err)
	var who identityOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &who))
	assert.Equal(t, "public_demo", who.Tier)
	assert.False(t, who.CanMutate)

	res = runOffline(t, profile, "logout")
	require.NoError(t, res.err)
	data, err = os.ReadFile(profile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "public_demo")
}

func TestInvalidFormat(t *testing.T) {
	res := runOffline(t, tempProfile(t), "--format", "xml", "whoami")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "invalid format")
}
