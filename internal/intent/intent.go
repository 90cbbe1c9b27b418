// Package intent maps tool invocations onto a fixed universe of workflow
// intents. The mapping is the vocabulary the rest of the system speaks:
// skills deny intents until capabilities are satisfied, and the
// pre-tool-use hook intersects a call's intents with the session's
// blocked set.
package intent

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Intent is an opaque workflow tag emitted for a tool invocation.
type Intent string

// The intent universe. Path-aware variants qualify write/edit by the
// classification of the touched file.
const (
	IntentWrite  Intent = "write"
	IntentEdit   Intent = "edit"
	IntentCommit Intent = "commit"
	IntentPush   Intent = "push"
	IntentDeploy Intent = "deploy"
	IntentDelete Intent = "delete"
	IntentRead   Intent = "read"
	IntentRun    Intent = "run"

	IntentWriteTest   Intent = "write_test"
	IntentWriteImpl   Intent = "write_impl"
	IntentWriteDocs   Intent = "write_docs"
	IntentWriteConfig Intent = "write_config"

	IntentEditTest   Intent = "edit_test"
	IntentEditImpl   Intent = "edit_impl"
	IntentEditDocs   Intent = "edit_docs"
	IntentEditConfig Intent = "edit_config"
)

// HighImpact is the subset of intents that advisory strictness still
// blocks; everything else downgrades to a warning.
var HighImpact = map[Intent]bool{
	IntentWriteImpl: true,
	IntentCommit:    true,
	IntentPush:      true,
	IntentDeploy:    true,
	IntentDelete:    true,
}

// Kind discriminates the recognised tool universe.
type Kind string

const (
	KindWrite        Kind = "Write"
	KindEdit         Kind = "Edit"
	KindMultiEdit    Kind = "MultiEdit"
	KindNotebookEdit Kind = "NotebookEdit"
	KindRead         Kind = "Read"
	KindGlob         Kind = "Glob"
	KindGrep         Kind = "Grep"
	KindBash         Kind = "Bash"
	KindUnknown      Kind = "Unknown"
)

// Invocation is the tagged form of one tool call. Only the fields
// relevant to the kind are populated; Unknown keeps the original name
// and raw input for logging.
type Invocation struct {
	Kind    Kind
	Path    string          // file tools
	Command string          // Bash
	Name    string          // original tool name (set for Unknown)
	Raw     json.RawMessage // original input (set for Unknown)
}

// wireInvocation is the hook's JSON input shape: {"tool": ..., "input": {...}}.
type wireInvocation struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

type fileInput struct {
	Path     string `json:"path"`
	FilePath string `json:"file_path"`
}

type bashInput struct {
	Command string `json:"command"`
}

// Parse decodes a tool-invocation JSON document into its tagged form.
// Unrecognised tools are preserved as Unknown rather than rejected.
func Parse(data []byte) (Invocation, error) {
	var wire wireInvocation
	if err := json.Unmarshal(data, &wire); err != nil {
		return Invocation{}, fmt.Errorf("intent: parse tool invocation: %w", err)
	}
	if wire.Tool == "" {
		return Invocation{}, fmt.Errorf("intent: tool invocation missing \"tool\" field")
	}

	switch Kind(wire.Tool) {
	case KindWrite, KindEdit, KindMultiEdit, KindNotebookEdit, KindRead:
		var in fileInput
		if len(wire.Input) > 0 {
			if err := json.Unmarshal(wire.Input, &in); err != nil {
				return Invocation{}, fmt.Errorf("intent: parse %s input: %w", wire.Tool, err)
			}
		}
		path := in.FilePath
		if path == "" {
			path = in.Path
		}
		return Invocation{Kind: Kind(wire.Tool), Path: path}, nil

	case KindGlob, KindGrep:
		return Invocation{Kind: Kind(wire.Tool)}, nil

	case KindBash:
		var in bashInput
		if len(wire.Input) > 0 {
			if err := json.Unmarshal(wire.Input, &in); err != nil {
				return Invocation{}, fmt.Errorf("intent: parse Bash input: %w", err)
			}
		}
		return Invocation{Kind: KindBash, Command: in.Command}, nil

	default:
		return Invocation{Kind: KindUnknown, Name: wire.Tool, Raw: wire.Input}, nil
	}
}

// Map returns the intents of one invocation in canonical (sorted) order.
// Read-only tools and unknown tools map to no intents.
func Map(inv Invocation) []Intent {
	var out []Intent
	switch inv.Kind {
	case KindWrite:
		out = append(out, IntentWrite)
		if inv.Path != "" {
			out = append(out, qualified(IntentWrite, ClassifyPath(inv.Path)))
		}
	case KindEdit, KindMultiEdit, KindNotebookEdit:
		out = append(out, IntentEdit)
		if inv.Path != "" {
			out = append(out, qualified(IntentEdit, ClassifyPath(inv.Path)))
		}
	case KindBash:
		out = append(out, IntentRun)
		out = append(out, commandIntents(inv.Command)...)
	case KindRead, KindGlob, KindGrep, KindUnknown:
		// No workflow intent.
	}
	return canonical(out)
}

func qualified(base Intent, class PathClass) Intent {
	return Intent(string(base) + "_" + string(class))
}

// canonical sorts and deduplicates, so equal invocations always map to
// bit-identical intent slices.
func canonical(intents []Intent) []Intent {
	if len(intents) == 0 {
		return nil
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })
	out := intents[:1]
	for _, it := range intents[1:] {
		if it != out[len(out)-1] {
			out = append(out, it)
		}
	}
	return out
}
