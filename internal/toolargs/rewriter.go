// Package toolargs rewrites coding-agent tool call arguments between the
// caller's naming convention and the upstream tool runner's expected
// names, so a client written against Claude-style tool schemas still works
// against the runner's actual argument names.
package toolargs

import "strings"

// Rewriter applies the gateway's known tool-name aliases, case-insensitively,
// to tool-call argument maps in both directions.
type Rewriter struct{}

// New builds a Rewriter. The rule table is small and fixed (three tool
// names), so unlike internal/schema it needs no external configuration.
func New() *Rewriter { return &Rewriter{} }

// RewriteOutbound renames args in place for an outbound call to tool,
// translating the caller's argument names to the tool runner's expected
// names:
//   - Grep, Glob: array argument "paths" becomes string argument "path",
//     taking the first element (the runner accepts one path per call).
//   - Read: "path" becomes "file_path".
func (r *Rewriter) RewriteOutbound(tool string, args map[string]any) {
	switch strings.ToLower(tool) {
	case "grep", "glob":
		renamePathsToPath(args)
	case "read":
		renameKey(args, "path", "file_path")
	}
}

// RewriteInbound reverses RewriteOutbound when echoing a tool call back to
// the client in its original convention.
func (r *Rewriter) RewriteInbound(tool string, args map[string]any) {
	switch strings.ToLower(tool) {
	case "grep", "glob":
		renamePathToPaths(args)
	case "read":
		renameKey(args, "file_path", "path")
	}
}

func renamePathsToPath(args map[string]any) {
	v, ok := args["paths"]
	if !ok {
		return
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		delete(args, "paths")
		return
	}
	first, ok := arr[0].(string)
	if !ok {
		return
	}
	if _, conflict := args["path"]; !conflict {
		args["path"] = first
		delete(args, "paths")
	}
}

func renamePathToPaths(args map[string]any) {
	v, ok := args["path"]
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		return
	}
	if _, conflict := args["paths"]; !conflict {
		args["paths"] = []any{s}
		delete(args, "path")
	}
}

func renameKey(args map[string]any, from, to string) {
	v, ok := args[from]
	if !ok {
		return
	}
	if _, conflict := args[to]; !conflict {
		args[to] = v
		delete(args, from)
	}
}
