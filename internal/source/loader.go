package source

import (
	"context"
	"log/slog"

	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// Loader gathers the rule documents a rules.Store is loaded from. Source
// failures are logged and never returned: the store falls back to the
// bundled catalogue on its own.
type Loader struct {
	// Override is an optional user-supplied document source (a File or a
	// Remote). Its document takes precedence over the bundled one.
	Override Provider
	Bundled  Provider

	logger *slog.Logger
}

// NewLoader creates a Loader. A nil override means bundled rules only.
func NewLoader(override Provider, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{Override: override, Bundled: Bundled(), logger: logger}
}

// Load fetches the override and bundled documents. Settings are left for
// the caller to fill in.
func (l *Loader) Load(ctx context.Context) rules.Sources {
	var src rules.Sources

	if l.Override != nil {
		doc, err := l.Override.Fetch(ctx)
		if err != nil {
			l.logger.Warn("failed to load rule source, using bundled rules", "error", err)
		} else {
			src.Remote = doc
		}
	}

	if l.Bundled != nil {
		doc, err := l.Bundled.Fetch(ctx)
		if err != nil {
			l.logger.Error("failed to load bundled rules", "error", err)
		} else {
			src.Bundled = doc
		}
	}

	return src
}

// Refresh re-fetches the override, bypassing any cache, and swaps its rules
// into store. Without an override it is a no-op.
func (l *Loader) Refresh(ctx context.Context, store *rules.Store) (*rules.LoadReport, error) {
	if l.Override == nil {
		return &rules.LoadReport{Source: rules.SourceBundled, Rules: len(store.Rules())}, nil
	}

	var (
		doc *rules.Document
		err error
	)
	if r, ok := l.Override.(*Remote); ok {
		doc, err = r.Refresh(ctx)
	} else {
		doc, err = l.Override.Fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	return store.ReplaceBase(doc), nil
}
