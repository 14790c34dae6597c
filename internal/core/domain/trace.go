package domain

import "strings"

// ToolCall is one capability invocation requested by the assistant
type ToolCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// TraceRecord is a record of a turn's reasoning trace. The set of
// implementations is closed: AssistantRecord and ToolResultRecord.
type TraceRecord interface {
	// ToolNames returns the capability names this record shows were invoked.
	ToolNames() []string
	traceRecord()
}

// AssistantRecord is an assistant message, possibly requesting tool calls
type AssistantRecord struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolNames returns the names of the requested tool calls.
func (r AssistantRecord) ToolNames() []string {
	names := make([]string, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		names = append(names, tc.Name)
	}
	return names
}

func (AssistantRecord) traceRecord() {}

// ToolResultRecord is the output of one capability invocation
type ToolResultRecord struct {
	ToolName string `json:"name"`
	Content  string `json:"content"`
}

// ToolNames returns the invoked tool's name.
func (r ToolResultRecord) ToolNames() []string {
	return []string{r.ToolName}
}

func (ToolResultRecord) traceRecord() {}

// ParseTraceRecord converts a loosely shaped record into a TraceRecord.
// The record kind is read from "type" (or "role"): "ai" and "assistant" give
// an AssistantRecord, "tool" gives a ToolResultRecord. A record with no kind
// but a "tool_calls" list is an AssistantRecord. Anything else, and any field
// of the wrong type, is ignored rather than rejected.
func ParseTraceRecord(raw map[string]any) (TraceRecord, bool) {
	kind := stringField(raw, "type")
	if kind == "" {
		kind = stringField(raw, "role")
	}

	switch strings.ToLower(kind) {
	case "ai", "assistant":
		return parseAssistant(raw), true
	case "":
		if _, ok := raw["tool_calls"].([]any); ok {
			return parseAssistant(raw), true
		}
		return nil, false
	case "tool":
		name := stringField(raw, "name")
		if name == "" {
			name = stringField(raw, "tool")
		}
		return ToolResultRecord{ToolName: name, Content: stringField(raw, "content")}, true
	default:
		return nil, false
	}
}

func parseAssistant(raw map[string]any) AssistantRecord {
	rec := AssistantRecord{Content: stringField(raw, "content")}
	calls, _ := raw["tool_calls"].([]any)
	for _, c := range calls {
		call, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name := toolCallName(call)
		if name == "" {
			continue
		}
		rec.ToolCalls = append(rec.ToolCalls, ToolCall{ID: stringField(call, "id"), Name: name})
	}
	return rec
}

// ParseTraceRecords converts a trace, dropping records of unknown kind.
func ParseTraceRecords(raw []map[string]any) []TraceRecord {
	out := make([]TraceRecord, 0, len(raw))
	for _, r := range raw {
		if rec, ok := ParseTraceRecord(r); ok {
			out = append(out, rec)
		}
	}
	return out
}

// ExtractToolsUsed returns the capability names invoked in a trace, in order
// of first appearance, each once.
func ExtractToolsUsed(records []TraceRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for _, name := range rec.ToolNames() {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// toolCallName reads "name", then "tool", then the OpenAI style "function.name".
func toolCallName(call map[string]any) string {
	if name := stringField(call, "name"); name != "" {
		return name
	}
	if name := stringField(call, "tool"); name != "" {
		return name
	}
	if fn, ok := call["function"].(map[string]any); ok {
		return stringField(fn, "name")
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
