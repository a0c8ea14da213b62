package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCLIPrintsEachCycle(t *testing.T) {
	t.Setenv("TRACKCORE_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-journal", "-metrics", "prometheus"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	require.Contains(t, out, "cycle 1 (add category with two articles): added=")
	require.Contains(t, out, "cycle 2 (edit article title): added=0 added_companions=0 modified=1")
	require.Contains(t, out, "modified          article [1] (Title)")
	require.Contains(t, out, "cycle 3 (save without changes): added=0 added_companions=0 modified=0 deleted_companions=0 deleted=0")
	require.Contains(t, out, "bulk update tag labels: 1 row(s)")
	require.Contains(t, out, "journal: 3 record(s) under journal/")
	require.Contains(t, out, "prometheus families")
}

func TestCLIWithSQLiteAndJSON(t *testing.T) {
	t.Setenv("TRACKCORE_LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "demo.db")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-storage", "sqlite", "-sqlite", path, "-json", "-metrics", "none"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), `"started_at"`)
	require.NotContains(t, stdout.String(), "metrics:")
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestCLIErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, cli(context.Background(), []string{"-nope"}, &stdout, &stderr))

	stderr.Reset()
	require.Equal(t, 1, cli(context.Background(), []string{"-log-level", "loud"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "logging:")

	stderr.Reset()
	t.Setenv("TRACKCORE_STORAGE_DRIVER", "tape")
	require.Equal(t, 1, cli(context.Background(), nil, &stdout, &stderr))
	require.True(t, strings.HasPrefix(stderr.String(), "config:"))
}

func TestMainUsesExitFunc(t *testing.T) {
	t.Setenv("TRACKCORE_LOG_LEVEL", "error")
	t.Setenv("TRACKCORE_METRICS_EXPORTER", "none")
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	oldStdout := os.Stdout
	os.Stdout = devnull
	defer func() {
		os.Stdout = oldStdout
		_ = devnull.Close()
	}()

	os.Args = []string{"trackdemo"}
	main()
	require.Equal(t, []int{0}, codes)
}
