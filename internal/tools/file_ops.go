package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	listPreviewCount = 20
	readPreviewChars = 500
)

// FileOps lists and reads files in one fixed working directory. Paths
// are relative to that directory; absolute paths, ".." segments and
// symlinks resolving outside it are denied.
type FileOps struct {
	root string
}

// NewFileOps creates the file_operations tool rooted at dir ("" means
// the process working directory).
func NewFileOps(dir string) (*FileOps, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	return &FileOps{root: abs}, nil
}

type fileOpsParams struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
}

func (f *FileOps) Descriptor() Descriptor {
	return Descriptor{
		Name:        "file_operations",
		Description: "Read or list files in the current directory (restricted for security).",
		Parameters: map[string]string{
			"operation": "string - Operation to perform: 'list' or 'read'",
			"path":      "string - Optional file path for 'read' operation",
		},
	}
}

func (f *FileOps) Execute(_ context.Context, params map[string]any) *Result {
	var p fileOpsParams
	if err := decodeParams(params, &p); err != nil {
		return invalidParams(err)
	}

	switch p.Operation {
	case "":
		return Failure("Missing operation parameter", "Please specify an operation: 'list' or 'read'")
	case "list":
		return f.list()
	case "read":
		return f.read(p.Path)
	default:
		return Failure("Invalid operation", "Operation must be 'list' or 'read'")
	}
}

func (f *FileOps) list() *Result {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return opFailed(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}

	shown := names[:min(len(names), listPreviewCount)]
	resp := "Files in current directory: " + strings.Join(shown, ", ")
	if len(names) > listPreviewCount {
		resp += "..."
	}
	return Success(resp, map[string]any{"files": names})
}

func (f *FileOps) read(path string) *Result {
	if path == "" {
		return Failure("Missing path parameter", "Please provide a file path to read.")
	}
	rel, ok := confine(path)
	if !ok {
		return accessDenied()
	}

	full := filepath.Join(f.root, rel)
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return opFailed(relativize(err, rel))
	}
	if !f.contains(resolved) {
		return accessDenied()
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return opFailed(relativize(err, rel))
	}
	preview, chars, err := readPreview(resolved)
	if err != nil {
		return opFailed(relativize(err, rel))
	}

	return Success(fmt.Sprintf("File content (%d characters): %s", chars, preview), map[string]any{
		"path":    path,
		"size":    int(info.Size()),
		"preview": preview,
	})
}

// readPreview returns the first readPreviewChars characters of the file,
// with "..." appended when more follow, and the file's total character
// count. Only the preview is held in memory.
func readPreview(name string) (string, int, error) {
	fh, err := os.Open(name)
	if err != nil {
		return "", 0, err
	}
	defer fh.Close()

	r := bufio.NewReader(fh)
	var b strings.Builder
	chars := 0
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		if chars < readPreviewChars {
			b.WriteRune(c)
		}
		chars++
	}
	if chars > readPreviewChars {
		b.WriteString("...")
	}
	return b.String(), chars, nil
}

// confine normalizes a requested path and reports whether it stays
// lexically inside the working directory.
func confine(path string) (string, bool) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || strings.HasPrefix(path, "/") {
		return "", false
	}
	if slices.Contains(strings.Split(filepath.ToSlash(clean), "/"), "..") {
		return "", false
	}
	return clean, true
}

func (f *FileOps) contains(resolved string) bool {
	root, err := filepath.EvalSymlinks(f.root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relativize rewrites path errors to name the requested path instead of
// the absolute one, so results never reveal the server's layout.
func relativize(err error, rel string) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return &fs.PathError{Op: pe.Op, Path: rel, Err: pe.Err}
	}
	return err
}

func accessDenied() *Result {
	return Failure("Access denied", "Cannot access files outside the current directory for security reasons.")
}

func opFailed(err error) *Result {
	return Failure(err.Error(), "File operation failed: "+err.Error())
}
