package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/threadline-ai/threadline/ratelimit"
)

// FileTool reads and writes files inside a per-organization namespace
// under a fixed root. Paths are normalized and checked against the
// namespace before any filesystem access; traversal outside it is
// rejected.
type FileTool struct {
	root      string
	maxBytes  int64
	rateLimit *ratelimit.Limit
}

// NewFileTool creates a file tool rooted at dir.
func NewFileTool(root string, rateLimit *ratelimit.Limit) (*FileTool, error) {
	if root == "" {
		return nil, fmt.Errorf("file tool root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file tool root: %w", err)
	}
	return &FileTool{
		root:      abs,
		maxBytes:  1 << 20, // 1 MiB per file
		rateLimit: rateLimit,
	}, nil
}

func (t *FileTool) Definition() Definition {
	return Definition{
		Name:        "file",
		Description: "Read or write a file inside the organization's workspace.",
		Parameters: []Parameter{
			{Name: "operation", Type: "string", Description: "What to do", Required: true, Enum: []string{"read", "write"}},
			{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write (write only)"},
		},
		RateLimit: t.rateLimit,
	}
}

// resolve maps a user-supplied relative path into the organization's
// namespace, rejecting anything that would escape it.
func (t *FileTool) resolve(orgID, path string) (string, error) {
	if orgID == "" {
		return "", fmt.Errorf("organization id is required for file access")
	}
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative")
	}

	base := filepath.Join(t.root, orgID)
	full := filepath.Clean(filepath.Join(base, path))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace")
	}
	return full, nil
}

func (t *FileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	cc, _ := CallContextFrom(ctx)

	operation, _ := args["operation"].(string)
	path, _ := args["path"].(string)

	full, err := t.resolve(cc.OrganizationID, path)
	if err != nil {
		return Result{}, err
	}

	switch operation {
	case "read":
		info, err := os.Stat(full)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if info.Size() > t.maxBytes {
			return Result{}, fmt.Errorf("file %s exceeds the size limit", path)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return Result{Success: true, Content: string(data)}, nil

	case "write":
		content, _ := args["content"].(string)
		if int64(len(content)) > t.maxBytes {
			return Result{}, fmt.Errorf("content exceeds the size limit")
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return Result{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return Result{}, fmt.Errorf("failed to write %s: %w", path, err)
		}
		return Result{
			Success: true,
			Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
		}, nil

	default:
		return Result{}, fmt.Errorf("unknown operation %q", operation)
	}
}

var _ Tool = (*FileTool)(nil)
