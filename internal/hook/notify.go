package hook

import (
	"context"
	"fmt"
	"io"

	"github.com/bimmerbailey/prompthakcer/internal/history"
)

// DefaultSummaryEvery is how many scans pass between stats notices.
const DefaultSummaryEvery = 10

// Notifier is the post-tool-use hook. Every n-th scan it writes a short
// stats summary.
type Notifier struct {
	sink  history.Sink
	every int64
}

// NewNotifier creates a Notifier reading from sink.
func NewNotifier(sink history.Sink, every int) *Notifier {
	if every <= 0 {
		every = DefaultSummaryEvery
	}
	return &Notifier{sink: sink, every: int64(every)}
}

// Run writes the summary to w when the scan count is a multiple of the
// interval. Errors reading stats are swallowed so the hook never
// interferes with the agent.
func (n *Notifier) Run(ctx context.Context, w io.Writer) bool {
	sum, err := n.sink.Summary(ctx)
	if err != nil || sum.TotalScans == 0 || sum.TotalScans%n.every != 0 {
		return false
	}

	fmt.Fprintf(w, "\nPromptHakcer Stats Update:\n")
	fmt.Fprintf(w, "  Scans: %d | DLP blocks: %d\n", sum.TotalScans, sum.DLPBlocks)
	fmt.Fprintf(w, "  Optimizations: %d | Tokens saved: %d\n\n", sum.TotalOptimizations, sum.TotalTokensSaved)
	return true
}
