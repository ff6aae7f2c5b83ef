// Package hook implements the pre- and post-tool-use hooks of a coding
// agent. The pre-tool-use gate scans tool input for sensitive data and
// blocks the call when anything is found; the post-tool-use notifier prints
// a periodic stats line.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/history"
)

// Hook decisions.
const (
	Approve = "approve"
	Block   = "block"
)

// DefaultFields maps the tools whose input is scanned to the input field
// that carries their content.
var DefaultFields = map[string]string{
	"Write":        "content",
	"Edit":         "new_string",
	"Bash":         "command",
	"NotebookEdit": "new_source",
}

// Input is the JSON payload a hook receives on stdin.
type Input struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// Decision is the JSON payload the pre-tool-use hook writes to stdout.
type Decision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// Scanner runs a DLP scan. *engine.Engine satisfies it.
type Scanner interface {
	ScanDLP(text string) engine.Findings
}

// Gate is the pre-tool-use DLP gate. It fails open: malformed input, an
// unknown tool or an internal error all produce an approve decision.
type Gate struct {
	scanner Scanner
	sink    history.Sink
	fields  map[string]string
	logger  *slog.Logger
}

// NewGate creates a Gate. A nil fields map selects DefaultFields and a nil
// sink disables stats recording. Tool names match case-insensitively, since
// config keys arrive lowercased.
func NewGate(scanner Scanner, sink history.Sink, fields map[string]string, logger *slog.Logger) *Gate {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	normalized := make(map[string]string, len(fields))
	for tool, field := range fields {
		normalized[strings.ToLower(tool)] = field
	}
	return &Gate{scanner: scanner, sink: sink, fields: normalized, logger: logger}
}

// Run reads one Input from r and writes the Decision to w.
func (g *Gate) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		g.logger.Info("unparsable hook input, approving", "error", err)
		return writeDecision(w, Decision{Decision: Approve})
	}
	return writeDecision(w, g.Evaluate(ctx, in))
}

// Evaluate decides on a single tool call.
func (g *Gate) Evaluate(ctx context.Context, in Input) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("hook panicked, approving", "panic", r)
			d = Decision{Decision: Approve}
		}
	}()

	field, ok := g.fields[strings.ToLower(in.ToolName)]
	if !ok {
		return Decision{Decision: Approve}
	}
	text, _ := in.ToolInput[field].(string)
	if text == "" {
		return Decision{Decision: Approve}
	}

	findings := g.scanner.ScanDLP(text)
	if g.sink != nil {
		if err := g.sink.RecordScan(ctx, findings); err != nil {
			g.logger.Warn("failed to record scan", "error", err)
		}
	}

	if len(findings) == 0 {
		return Decision{Decision: Approve}
	}
	g.logger.Info("blocking tool call", "tool", in.ToolName, "findings", findings.Total())
	return Decision{Decision: Block, Reason: BlockReason(findings)}
}

// BlockReason renders the message shown to the agent when a call is
// blocked.
func BlockReason(findings engine.Findings) string {
	var b strings.Builder
	b.WriteString("PromptHakcer DLP: Sensitive data detected in tool input!\n\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "  [%s] %d match(es) found - %s\n", f.RuleName, f.MatchCount, f.Explanation)
	}
	fmt.Fprintf(&b, "\nTotal: %d sensitive item(s) detected.\n", findings.Total())
	b.WriteString("Review the content and redact sensitive data before proceeding.")
	return b.String()
}

func writeDecision(w io.Writer, d Decision) error {
	return json.NewEncoder(w).Encode(d)
}
