package tools

import (
	"context"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FSConfig configures the filesystem tools.
type FSConfig struct {
	// Root confines every path. Relative paths resolve against it. Empty
	// means unrestricted, with relative paths resolved against the working
	// directory.
	Root        string
	MaxReadSize int64
}

// FilesystemHandlers returns the filesystem category tools.
func FilesystemHandlers(cfg FSConfig) []Handler {
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = defaultMaxReadSize
	}
	return []Handler{
		&fsReadFile{cfg: cfg},
		&fsWriteFile{cfg: cfg},
		&fsListDirectory{cfg: cfg},
	}
}

// resolvePath turns a tool-supplied path into a cleaned absolute path inside
// the configured root.
func (c FSConfig) resolvePath(tool, path string) (string, error) {
	if path == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: \"path\" is required", tool)
	}
	if strings.ContainsRune(path, 0) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: path contains null byte", tool)
	}
	if c.Root == "" {
		abs, err := filepath.Abs(filepath.Clean(path))
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid path %q: %v", tool, path, err)
		}
		return abs, nil
	}

	root, err := filepath.Abs(c.Root)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid root %q: %v", tool, c.Root, err)
	}
	if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
		root = resolved
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if resolved, rerr := filepath.EvalSymlinks(target); rerr == nil {
		target = resolved
	}
	if !isUnderPath(target, root) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: path %q escapes root", tool, path)
	}
	return target, nil
}

func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isBinary checks if data contains null bytes (binary detection heuristic).
func isBinary(data []byte) bool {
	check := data
	if len(check) > 8192 {
		check = check[:8192]
	}
	for _, b := range check {
		if b == 0 {
			return true
		}
	}
	return false
}

// --- read_file ---

type fsReadFile struct{ cfg FSConfig }

func (*fsReadFile) Category() Category { return CategoryFilesystem }
func (*fsReadFile) Name() string       { return "read_file" }
func (*fsReadFile) Description() string {
	return "Read a file; text is returned verbatim, binary content as base64"
}

func (a *fsReadFile) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("read_file", input)
	if err != nil {
		return nil, err
	}
	path, err := a.cfg.resolvePath("read_file", stringParam(params, "path", ""))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "read_file: %v", err).WithCause(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, a.cfg.MaxReadSize))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "read_file: failed to read file: %v", err).WithCause(err)
	}

	enc := stringParam(params, "encoding", "auto")
	if enc == "auto" {
		if isBinary(data) {
			enc = "base64"
		} else {
			enc = "text"
		}
	}

	content := string(data)
	if enc == "base64" {
		content = base64.StdEncoding.EncodeToString(data)
	}

	return map[string]any{
		"path":     path,
		"content":  content,
		"encoding": enc,
		"size":     len(data),
	}, nil
}

// --- write_file ---

type fsWriteFile struct{ cfg FSConfig }

func (*fsWriteFile) Category() Category  { return CategoryFilesystem }
func (*fsWriteFile) Name() string        { return "write_file" }
func (*fsWriteFile) Description() string { return "Write or append text content to a file" }

func (a *fsWriteFile) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("write_file", input)
	if err != nil {
		return nil, err
	}
	path, err := a.cfg.resolvePath("write_file", stringParam(params, "path", ""))
	if err != nil {
		return nil, err
	}

	content := stringParam(params, "content", "")
	if boolParam(params, "create_dirs", false) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
				"write_file: failed to create directories: %v", err).WithCause(err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	appendMode := boolParam(params, "append", false)
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, os.FileMode(intParam(params, "mode", 0o644)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "write_file: %v", err).WithCause(err)
	}
	n, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "write_file: %v", werr).WithCause(werr)
	}
	if cerr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "write_file: %v", cerr).WithCause(cerr)
	}

	return map[string]any{
		"path":     path,
		"size":     n,
		"appended": appendMode,
	}, nil
}

// --- list_directory ---

type fsListDirectory struct{ cfg FSConfig }

func (*fsListDirectory) Category() Category { return CategoryFilesystem }
func (*fsListDirectory) Name() string       { return "list_directory" }
func (*fsListDirectory) Description() string {
	return "List directory entries, optionally recursive and filtered by a glob pattern"
}

func (a *fsListDirectory) Invoke(_ context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("list_directory", input)
	if err != nil {
		return nil, err
	}
	path, err := a.cfg.resolvePath("list_directory", stringParam(params, "path", "."))
	if err != nil {
		return nil, err
	}

	pattern := stringParam(params, "pattern", "")
	if pattern != "" {
		if _, perr := filepath.Match(pattern, ""); perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "list_directory: invalid pattern %q: %v", pattern, perr)
		}
	}
	recursive := boolParam(params, "recursive", false)

	entries := []any{}
	add := func(p string, d fs.DirEntry) {
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, d.Name()); !ok {
				return
			}
		}
		info, ierr := d.Info()
		if ierr != nil {
			return
		}
		entries = append(entries, map[string]any{
			"name":        d.Name(),
			"path":        p,
			"size":        info.Size(),
			"modified_at": info.ModTime().UTC().Format(time.RFC3339),
			"is_dir":      d.IsDir(),
		})
	}

	if recursive {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p != path {
				add(p, d)
			}
			return nil
		})
	} else {
		var dirEntries []fs.DirEntry
		dirEntries, err = os.ReadDir(path)
		for _, d := range dirEntries {
			add(filepath.Join(path, d.Name()), d)
		}
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "list_directory: %v", err).WithCause(err)
	}

	return map[string]any{
		"path":    path,
		"entries": entries,
		"count":   len(entries),
	}, nil
}
