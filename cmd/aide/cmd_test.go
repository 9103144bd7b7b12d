package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"aide/pkg/supervisor"
)

// setupHome points every path at a fresh directory.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("AIDE_HOME", home)
	t.Setenv("AIDE_DB_PATH", "")
	t.Setenv("AIDE_CONFIG", "")
	t.Setenv("AIDE_USER", "u1")
	t.Setenv("NO_COLOR", "1")
	return home
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	setupHome(t)
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "aide "), out)
}

func TestAskCmd_ReadRunsImmediately(t *testing.T) {
	setupHome(t)
	out, err := runCmd(t, "ask", "check", "my", "inbox")
	require.NoError(t, err)
	require.Contains(t, out, "email/read")
	require.Contains(t, out, "conversation ")
}

func TestApprovalsFlow(t *testing.T) {
	setupHome(t)

	out, err := runCmd(t, "ask", "--json", sendToBob)
	require.NoError(t, err)
	var res supervisor.TurnResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.PendingApprovals, 1)
	id := res.PendingApprovals[0].ID

	out, err = runCmd(t, "approvals", "list")
	require.NoError(t, err)
	require.Contains(t, out, id)
	require.Contains(t, out, "email/send")

	_, err = runCmd(t, "approvals", "decide", id)
	require.ErrorContains(t, err, "exactly one of --approve or --reject")

	out, err = runCmd(t, "approvals", "decide", id, "--approve")
	require.NoError(t, err)
	require.Contains(t, out, "approval "+id+" approved")

	out, err = runCmd(t, "approvals", "decide", id, "--reject", "--reason", "changed my mind")
	require.NoError(t, err)
	require.Contains(t, out, "already approved")

	out, err = runCmd(t, "approvals", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no pending approvals")

	out, err = runCmd(t, "approvals", "sweep")
	require.NoError(t, err)
	require.Contains(t, out, "expired 0 approval(s)")

	out, err = runCmd(t, "activity", "--status", "completed")
	require.NoError(t, err)
	require.Contains(t, out, "completed")
	require.Contains(t, out, "email send")
}

func TestTrustCmds(t *testing.T) {
	setupHome(t)

	out, err := runCmd(t, "trust", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no trust history yet")

	out, err = runCmd(t, "trust", "set", "calendar", "3")
	require.NoError(t, err)
	require.Contains(t, out, "autonomous")
	require.Contains(t, out, "manual")

	_, err = runCmd(t, "trust", "set", "fax", "2")
	require.ErrorContains(t, err, "unknown agent")

	_, err = runCmd(t, "trust", "set", "email", "9")
	require.Error(t, err)

	out, err = runCmd(t, "trust", "list", "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"agent_type": "calendar"`)
}

func TestActivityCmd_MissingDatabase(t *testing.T) {
	setupHome(t)
	_, err := runCmd(t, "activity")
	require.ErrorContains(t, err, "database not found")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	home := setupHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("classifier: magic\n"), 0o600))

	_, err := runCmd(t, "trust", "list")
	require.Error(t, err)

	// version never reads the config.
	_, err = runCmd(t, "version")
	require.NoError(t, err)
}

func TestRootCmd_LoadsEnvFile(t *testing.T) {
	home := setupHome(t)
	t.Setenv("AIDE_TEST_KEY", "")
	// godotenv never overrides a variable that is already set.
	require.NoError(t, os.Unsetenv("AIDE_TEST_KEY"))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("AIDE_TEST_KEY=from-dotenv\n"), 0o600))

	_, err := runCmd(t, "trust", "list")
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", os.Getenv("AIDE_TEST_KEY"))
}
