package connector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pitabwire/switchboard/model"
)

// fileActions lists the supported file operations.
var fileActions = map[string]bool{
	"read":   true,
	"write":  true,
	"append": true,
	"exists": true,
	"stat":   true,
}

// fileStrategy performs filesystem operations.
type fileStrategy struct{}

func (s *fileStrategy) execute(ctx context.Context, conn model.Connector, cfg *model.FileConfig, c call) model.Response {
	if !fileActions[c.action] {
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("file connector %s does not support action %q", conn.ID, c.action))
	}

	path := stringParam(c.params, "path")
	if path == "" {
		path = cfg.Path
	}
	if path == "" {
		return model.Fail(model.ErrBadRequest, "file path is required")
	}
	if cfg.Confine {
		confined, err := confinePath(c.ictx.WorkspaceRoot, path)
		if err != nil {
			return model.Fail(model.ErrBadRequest, err.Error())
		}
		path = confined
	} else if !filepath.IsAbs(path) && c.ictx.WorkspaceRoot != "" {
		path = filepath.Join(c.ictx.WorkspaceRoot, path)
	}

	if resp, done := contextFailure(ctx, "file "+c.action); done {
		return resp
	}

	// The operation itself cannot be interrupted; the caller stops waiting
	// when ctx ends.
	result := make(chan model.Response, 1)
	go func() {
		result <- runFileAction(c.action, path, c.params)
	}()

	select {
	case resp := <-result:
		return resp
	case <-ctx.Done():
		resp, _ := contextFailure(ctx, "file "+c.action)
		return resp
	}
}

func runFileAction(action, path string, params map[string]any) model.Response {
	switch action {
	case "read":
		b, err := os.ReadFile(path)
		if err != nil {
			return fileError(err)
		}
		return model.OK(map[string]any{
			"path":    path,
			"content": string(b),
			"size":    len(b),
		})

	case "write", "append":
		content, err := textContent(params["content"])
		if err != nil {
			return model.Fail(model.ErrBadRequest, "encode content: "+err.Error())
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fileError(err)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if action == "append" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return fileError(err)
		}
		n, werr := f.WriteString(content)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return fileError(err)
		}
		return model.OK(map[string]any{
			"path":         path,
			"bytesWritten": n,
		})

	case "exists":
		_, err := os.Stat(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fileError(err)
		}
		return model.OK(map[string]any{
			"path":   path,
			"exists": err == nil,
		})

	case "stat":
		info, err := os.Stat(path)
		if err != nil {
			return fileError(err)
		}
		return model.OK(map[string]any{
			"path":    path,
			"name":    info.Name(),
			"size":    info.Size(),
			"isDir":   info.IsDir(),
			"mode":    info.Mode().String(),
			"modTime": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("unsupported file action %q", action))
}

// confinePath resolves path against root and rejects results outside it.
// Absolute paths are accepted only when they already lie under root. An empty
// root is the process working directory.
func confinePath(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace root", path)
	}
	return resolved, nil
}

func fileError(err error) model.Response {
	return model.Fail(model.ErrDispatchFailure, err.Error())
}
