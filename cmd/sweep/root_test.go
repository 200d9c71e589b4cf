package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsweep/internal/mq"
	"mailsweep/internal/util"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestAnalyzeDemo(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, _, err := run(t, "--demo", "analyze")
		require.NoError(t, err)
		assert.Contains(t, out, "SENDER")
		assert.Contains(t, out, "deals@shop.example")
		assert.Contains(t, out, "109 messages from 5 senders")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := run(t, "--demo", "--json", "analyze")
		require.NoError(t, err)
		var got struct {
			Messages int                        `json:"messages"`
			Stats    map[string]json.RawMessage `json:"stats"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 109, got.Messages)
		assert.Contains(t, got.Stats, "newsletter@weekly.example")
	})
}

func TestDomainsDemo(t *testing.T) {
	out, _, err := run(t, "--demo", "domains")
	require.NoError(t, err)
	assert.Contains(t, out, "shop.example")
	assert.Contains(t, out, "bank.example")
}

func TestReportCommandsDemo(t *testing.T) {
	out, _, err := run(t, "--demo", "--json", "attachments", "--min-size", "200KB")
	require.NoError(t, err)
	var att struct {
		Matched  int `json:"matched"`
		Messages []struct {
			Sender string `json:"sender"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &att))
	assert.Equal(t, 8, att.Matched)
	require.NotEmpty(t, att.Messages)
	assert.Equal(t, "billing@bank.example", att.Messages[0].Sender)

	_, _, err = run(t, "--demo", "attachments", "--min-size", "lots")
	assert.Error(t, err)

	out, _, err = run(t, "--demo", "velocity", "--days", "7", "--top", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "noreply@alerts.example")
	assert.Contains(t, out, "over 7 days")

	out, _, err = run(t, "--demo", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Senders:            5")
	assert.Contains(t, out, "Messages:           109")
	assert.Contains(t, out, "Trashed this week:  0")
}

func TestPlanAndDryRunCleanup(t *testing.T) {
	out, _, err := run(t, "--demo", "--json", "plan", "--sender", "deals@shop.example", "--older-than", "30")
	require.NoError(t, err)
	var plan struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.NotEmpty(t, plan.IDs)
	assert.Less(t, plan.Count, 40)
	for _, id := range plan.IDs {
		assert.True(t, strings.HasPrefix(id, "demo-0-"), id)
	}

	out, _, err = run(t, "--demo", "cleanup", "--sender", "deals@shop.example", "--older-than", "30", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would trash")
	assert.NotContains(t, out, "Undo with")
}

func TestCleanupRejectsEmptyCriteria(t *testing.T) {
	_, _, err := run(t, "--demo", "cleanup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inclusion predicate")
}

func TestCriteriaFlagsOnlySetWhatChanged(t *testing.T) {
	var cf criteriaFlags
	cmd := &cobra.Command{Use: "cleanup"}
	cf.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--domain", "x.example", "--exclude-starred=false"}))

	c, err := cf.criteria(cmd)
	require.NoError(t, err)
	require.NotNil(t, c.Domain)
	assert.Equal(t, "x.example", *c.Domain)
	assert.Nil(t, c.Sender)
	assert.Nil(t, c.OlderThanDays)
	assert.Nil(t, c.Unread)
	assert.True(t, c.ExcludeImportant)
	assert.False(t, c.ExcludeStarred)
}

func TestCriteriaFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sender: a@x.example\nolder_than_days: 10\nunread: true\n"), 0o600))

	var cf criteriaFlags
	cmd := &cobra.Command{Use: "plan"}
	cf.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"-f", path, "--older-than", "90"}))

	c, err := cf.criteria(cmd)
	require.NoError(t, err)
	assert.Equal(t, "a@x.example", *c.Sender)
	assert.Equal(t, 90, *c.OlderThanDays)
	assert.True(t, *c.Unread)
	assert.False(t, c.ExcludeImportant, "the file decides when no flag is set")
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("jwt:\n  secret: s3cret\n"), 0o600))
	t.Setenv("JWT_SECRET", "")

	out, _, err := run(t, "--env", "test", "--config-dir", dir, "token", "--subject", "ops@example.com", "--role", "operator")
	require.NoError(t, err)

	claims, err := util.ParseJWT(strings.TrimSpace(out), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "operator", claims.Role)

	_, _, err = run(t, "--env", "test", "--config-dir", dir, "token", "--subject", "x", "--role", "root")
	assert.ErrorContains(t, err, "unknown role")
}

func TestReadIDs(t *testing.T) {
	ids, err := readIDs(strings.NewReader("a\nb  c\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = readIDs(nil, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)

	_, err = readIDs(strings.NewReader("\n"), []string{"-"})
	assert.Error(t, err)
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	r := newEventPrinter(&out, false, zap.NewNop())

	evt, err := mq.NewEvent(mq.EventCleanupExecuted, mq.CleanupExecutedPayload{
		OperationID: "op-1",
		Rule:        "promos",
		Requested:   10,
		Succeeded:   9,
		Failed:      1,
		DurationMS:  250,
	})
	require.NoError(t, err)
	body, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, r.Handle(context.Background(), body))
	assert.Contains(t, out.String(), "executed op=op-1 rule=promos trashed=9/10 failed=1")

	out.Reset()
	evt, err = mq.NewEvent(mq.EventCleanupRestored, mq.CleanupRestoredPayload{OperationID: "op-2", Restored: 3})
	require.NoError(t, err)
	body, err = json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, r.Handle(context.Background(), body))
	assert.Contains(t, out.String(), "restored op=op-2 restored=3")
}
