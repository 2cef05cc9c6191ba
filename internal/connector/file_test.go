package connector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pitabwire/switchboard/model"
)

func fileConn(path string) model.Connector {
	return model.Connector{
		ID:      "files",
		Type:    model.ConnectorFile,
		Config:  &model.FileConfig{Path: path},
		Enabled: true,
	}
}

func TestFile_writeReadAppend(t *testing.T) {
	root := t.TempDir()
	env := newTestEnv(t, Options{}, fileConn("notes/today.md"))
	ictx := model.NewInvocationContext(root, "")
	ctx := context.Background()

	resp := env.exec.Execute(ctx, "files", "write", map[string]any{"content": "one\n"}, ictx)
	if !resp.Success {
		t.Fatalf("write = %+v", resp)
	}
	target := filepath.Join(root, "notes", "today.md")
	if d := resp.Data.(map[string]any); d["path"] != target || d["bytesWritten"] != 4 {
		t.Errorf("write data = %v", d)
	}

	resp = env.exec.Execute(ctx, "files", "append", map[string]any{"content": "two\n"}, ictx)
	if !resp.Success {
		t.Fatalf("append = %+v", resp)
	}

	resp = env.exec.Execute(ctx, "files", "read", nil, ictx)
	if !resp.Success {
		t.Fatalf("read = %+v", resp)
	}
	if d := resp.Data.(map[string]any); d["content"] != "one\ntwo\n" || d["size"] != 8 {
		t.Errorf("read data = %v", d)
	}
}

func TestFile_writeStructuredContent(t *testing.T) {
	root := t.TempDir()
	env := newTestEnv(t, Options{}, fileConn(""))

	resp := env.exec.Execute(context.Background(), "files", "write",
		map[string]any{"path": "out.json", "content": map[string]any{"a": 1}}, model.NewInvocationContext(root, ""))
	if !resp.Success {
		t.Fatalf("write = %+v", resp)
	}
	b, _ := os.ReadFile(filepath.Join(root, "out.json"))
	if string(b) != `{"a":1}` {
		t.Errorf("file = %q", b)
	}
}

func TestFile_existsAndStat(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0o644)
	env := newTestEnv(t, Options{}, fileConn(""))
	ictx := model.NewInvocationContext(root, "")
	ctx := context.Background()

	resp := env.exec.Execute(ctx, "files", "exists", map[string]any{"path": "a.txt"}, ictx)
	if d := resp.Data.(map[string]any); !resp.Success || d["exists"] != true {
		t.Errorf("exists(a.txt) = %+v", resp)
	}
	resp = env.exec.Execute(ctx, "files", "exists", map[string]any{"path": "missing.txt"}, ictx)
	if d := resp.Data.(map[string]any); !resp.Success || d["exists"] != false {
		t.Errorf("exists(missing.txt) = %+v", resp)
	}

	resp = env.exec.Execute(ctx, "files", "stat", map[string]any{"path": "a.txt"}, ictx)
	if !resp.Success {
		t.Fatalf("stat = %+v", resp)
	}
	d := resp.Data.(map[string]any)
	if d["size"] != int64(3) || d["isDir"] != false || d["name"] != "a.txt" {
		t.Errorf("stat data = %v", d)
	}
}

func TestFile_absolutePathIgnoresRoot(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.txt")
	os.WriteFile(abs, []byte("x"), 0o644)
	env := newTestEnv(t, Options{}, fileConn(abs))

	resp := env.exec.Execute(context.Background(), "files", "read", nil, model.NewInvocationContext(t.TempDir(), ""))
	if !resp.Success || resp.Data.(map[string]any)["content"] != "x" {
		t.Errorf("read = %+v", resp)
	}
}

func TestFile_failures(t *testing.T) {
	root := t.TempDir()
	env := newTestEnv(t, Options{}, fileConn(""))
	ictx := model.NewInvocationContext(root, "")

	tests := []struct {
		name   string
		action string
		params map[string]any
		code   string
	}{
		{"unsupported action", "delete", map[string]any{"path": "a"}, model.ErrDispatchFailure},
		{"unsupported without path", "chmod", nil, model.ErrDispatchFailure},
		{"missing file", "read", map[string]any{"path": "nope.txt"}, model.ErrDispatchFailure},
		{"no path", "read", nil, model.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.exec.Execute(context.Background(), "files", tt.action, tt.params, ictx)
			if resp.Success || resp.Code != tt.code || resp.Error == "" {
				t.Errorf("resp = %+v, want %s", resp, tt.code)
			}
		})
	}
}

func TestFile_cancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	env := newTestEnv(t, Options{}, fileConn("x.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := env.exec.Execute(ctx, "files", "write", map[string]any{"content": "x"}, model.NewInvocationContext(root, ""))
	if resp.Success || resp.Code != model.ErrCancelled {
		t.Fatalf("resp = %+v, want CANCELLED", resp)
	}
	if _, err := os.Stat(filepath.Join(root, "x.txt")); !os.IsNotExist(err) {
		t.Error("cancelled write should not touch the filesystem")
	}
}

func TestFile_confinedRejectsEscapes(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ws")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "outside.txt")
	conn := fileConn("")
	conn.Config = &model.FileConfig{Confine: true}
	env := newTestEnv(t, Options{}, conn)
	ictx := model.NewInvocationContext(root, "")

	tests := []struct {
		name string
		path string
	}{
		{"parent directory", "../escaped.txt"},
		{"nested traversal", "notes/../../escaped.txt"},
		{"absolute outside root", outside},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.exec.Execute(context.Background(), "files", "write",
				map[string]any{"path": tt.path, "content": "nope"}, ictx)
			if resp.Success || resp.Code != model.ErrBadRequest {
				t.Errorf("write(%s) = %+v, want BAD_REQUEST", tt.path, resp)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("file written outside the workspace root")
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Error("absolute path outside the root was written")
	}

	for _, p := range []string{"notes/../inside.txt", filepath.Join(root, "abs.txt")} {
		resp := env.exec.Execute(context.Background(), "files", "write",
			map[string]any{"path": p, "content": "ok"}, ictx)
		if !resp.Success {
			t.Errorf("write(%s) = %+v, want success inside root", p, resp)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "inside.txt")); err != nil {
		t.Errorf("inside.txt: %v", err)
	}
}

func TestFile_confinedDefaultsToWorkingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cwd")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	conn := fileConn("")
	conn.Config = &model.FileConfig{Confine: true}
	env := newTestEnv(t, Options{}, conn)
	ictx := model.InvocationContext{}

	resp := env.exec.Execute(context.Background(), "files", "write", map[string]any{"path": "../up.txt", "content": "x"}, ictx)
	if resp.Success || resp.Code != model.ErrBadRequest {
		t.Errorf("write(../up.txt) = %+v, want BAD_REQUEST", resp)
	}
	resp = env.exec.Execute(context.Background(), "files", "write", map[string]any{"path": "here.txt", "content": "x"}, ictx)
	if !resp.Success {
		t.Fatalf("write(here.txt) = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(dir, "here.txt")); err != nil {
		t.Errorf("here.txt: %v", err)
	}
}
