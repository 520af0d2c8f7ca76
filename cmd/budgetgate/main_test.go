package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_BudgetWorkflow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "budgetgate.db")
	t.Setenv("HOME", t.TempDir())

	steps := []struct {
		name     string
		args     []string
		contains []string
		wantErr  string
	}{
		{name: "create account", args: []string{"accounts", "create", "MKT", "Marketing"}, contains: []string{"Created account MKT", "id 1"}},
		{name: "list accounts", args: []string{"accounts", "list"}, contains: []string{"MKT", "Marketing", "active"}},
		{
			name:     "create budget",
			args:     []string{"budgets", "create", "--name", "FY2024", "--from", "2024-01-01", "--to", "2024-12-31", "--line", "1:EXPENSE:100000"},
			contains: []string{`Created budget "FY2024" with id 1`},
		},
		{name: "confirm", args: []string{"budgets", "confirm", "1"}, contains: []string{"Budget 1 is now CONFIRMED"}},
		{name: "confirm twice", args: []string{"budgets", "confirm", "1"}, wantErr: "confirm"},
		{name: "metrics", args: []string{"metrics", "1"}, contains: []string{"FY2024", "Marketing", "100000.00"}},
		{name: "revise", args: []string{"budgets", "revise", "1"}, contains: []string{"Created revision 2 of budget 1"}},
		{name: "list drafts", args: []string{"budgets", "list", "--status", "DRAFT"}, contains: []string{"FY2024", "DRAFT"}},
		{name: "unknown document", args: []string{"conflicts", "list", "missing"}, wantErr: "not found"},
	}

	for _, step := range steps {
		out, err := runCLI(t, append(step.args, "--db", db, "--log-level", "error")...)
		if step.wantErr != "" {
			require.Error(t, err, step.name)
			assert.Contains(t, err.Error(), step.wantErr, step.name)
			continue
		}
		require.NoError(t, err, step.name)
		for _, want := range step.contains {
			assert.Contains(t, out, want, step.name)
		}
	}
}

func TestCLI_Version(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := runCLI(t, "version", "--db", filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "budgetgate dev")
}
