package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/storeclient/pkg/client"
	"github.com/fruitsalade/storeclient/pkg/storetest"
)

func runCLI(t *testing.T, ts *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	base := []string{
		"--config", filepath.Join(t.TempDir(), "none.yaml"),
		"--token", "tok",
		"--retries", "1",
	}
	if ts != nil {
		base = append(base, "--base-url", ts.URL)
	}
	cmd := newRootCmd(&out, strings.NewReader(stdin))
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestStore(t *testing.T) (*storetest.Server, *httptest.Server) {
	t.Helper()
	store := storetest.New(storetest.WithToken("tok"))
	ts := httptest.NewServer(store.Handler())
	t.Cleanup(ts.Close)
	return store, ts
}

func TestLsAndGetByPath(t *testing.T) {
	store, ts := newTestStore(t)
	docs, _ := store.AddFolder(store.RootID(), "docs")
	store.AddFile(docs, "a.txt", "text/plain", []byte("alpha"))

	out, err := runCLI(t, ts, "", "ls", "/docs")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "NAME") {
		t.Errorf("unexpected ls output:\n%s", out)
	}

	out, err = runCLI(t, ts, "", "get", "/docs/a.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "text/plain") {
		t.Errorf("unexpected get output:\n%s", out)
	}
}

func TestMkdirPutCatRm(t *testing.T) {
	store, ts := newTestStore(t)

	if _, err := runCLI(t, ts, "", "mkdir", "/docs"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	local := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(local, []byte("hello"), 0644)
	out, err := runCLI(t, ts, "", "put", local, "/docs")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(out, "/api/nodes/") {
		t.Errorf("expected location, got %q", out)
	}

	os.WriteFile(local, []byte("hello again"), 0644)
	if _, err := runCLI(t, ts, "", "update", local, "/docs/notes.txt"); err != nil {
		t.Fatalf("update: %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "/api/nodes/"))
	if store.Versions(id) != 2 {
		t.Errorf("expected 2 versions, got %d", store.Versions(id))
	}

	out, err = runCLI(t, ts, "", "cat", "/docs/notes.txt")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if out != "hello again" {
		t.Errorf("unexpected content %q", out)
	}

	if _, err := runCLI(t, ts, "", "rm", "/docs/notes.txt"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	_, err = runCLI(t, ts, "", "get", id)
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected not found after rm, got %v", err)
	}
	if exitCode(err) != exitRejected {
		t.Errorf("expected exit code %d, got %d", exitRejected, exitCode(err))
	}
}

func TestPathCommand(t *testing.T) {
	store, ts := newTestStore(t)
	a, _ := store.AddFolder(store.RootID(), "a")
	f, _ := store.AddFile(a, "b.txt", "text/plain", []byte("b"))

	out, err := runCLI(t, ts, "", "path", f)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "/a/b.txt" {
		t.Errorf("expected /a/b.txt, got %q", out)
	}
}

func TestSearchNoResults(t *testing.T) {
	_, ts := newTestStore(t)
	out, err := runCLI(t, ts, "", "search", "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "no results" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	store, ts := newTestStore(t)
	store.AddFile(store.RootID(), "r.txt", "text/plain", []byte("root file"))
	dir := t.TempDir()

	out, err := runCLI(t, ts, "", "export", "/", dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out, "1 files") {
		t.Errorf("unexpected summary %q", out)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "r.txt"))
	if string(got) != "root file" {
		t.Errorf("unexpected exported content %q", got)
	}
}

func TestUnconfigured(t *testing.T) {
	t.Setenv("STORE_BASE_URL", "")
	t.Setenv("STORE_LOGIN", "")
	_, err := runCLI(t, nil, "", "status")
	if !errors.Is(err, client.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if exitCode(err) != exitConfig {
		t.Errorf("expected exit code %d, got %d", exitConfig, exitCode(err))
	}
}

func TestLoginSavesToken(t *testing.T) {
	_, ts := newTestStore(t)
	path := filepath.Join(t.TempDir(), "token.json")

	if _, err := runCLI(t, ts, "opaque-token\n", "--token-file", path, "login"); err != nil {
		t.Fatalf("login: %v", err)
	}
	tf, err := client.LoadToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if tf.Token != "opaque-token" || tf.Server != ts.URL {
		t.Errorf("unexpected token file %+v", tf)
	}
}

func TestSplitParent(t *testing.T) {
	tests := []struct {
		in, parent, name string
		wantErr          bool
	}{
		{"/docs", "/", "docs", false},
		{"/a/b/c.txt", "/a/b", "c.txt", false},
		{"abc123/new", "abc123", "new", false},
		{"noslash", "", "", true},
	}
	for _, tt := range tests {
		parent, name, err := splitParent(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitParent(%q) error = %v", tt.in, err)
			continue
		}
		if parent != tt.parent || name != tt.name {
			t.Errorf("splitParent(%q) = %q, %q", tt.in, parent, name)
		}
	}
}
