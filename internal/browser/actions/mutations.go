// internal/browser/actions/mutations.go
package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	// mutationBurstThreshold added plus removed nodes during one action are
	// read as the page being swapped out, as on a client-side route change.
	mutationBurstThreshold = 200
	maxAdvisoryNodes       = 10
	watchTeardownTimeout   = 2 * time.Second
)

const mutationStartScript = `function(key) {
  /*webpilot:mutation-start*/
  if (window[key]) { window[key].observer.disconnect(); }
  const state = {added: [], removed: 0, total: 0};
  const record = (records) => {
    for (const r of records) {
      state.total++;
      state.removed += r.removedNodes.length;
      for (const n of r.addedNodes) {
        if (n.nodeType === 1 && state.added.length < 500) { state.added.push(n); }
      }
    }
  };
  const observer = new MutationObserver(record);
  observer.observe(document.documentElement, {childList: true, subtree: true});
  window[key] = {observer, state, record};
  return true;
}`

const mutationStopScript = `function(key) {
  /*webpilot:mutation-stop*/
  const w = window[key];
  if (!w) { return {present: false}; }
  w.record(w.observer.takeRecords());
  w.observer.disconnect();
  delete window[key];
  const added = w.state.added.filter((n) => n.isConnected).map((n) => {
    const rect = n.getBoundingClientRect();
    const style = window.getComputedStyle(n);
    return {
      tag: n.tagName,
      role: n.getAttribute('role') || '',
      text: (n.innerText || n.textContent || '').replace(/\s+/g, ' ').trim().slice(0, 120),
      visible: rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none',
    };
  });
  return {present: true, added, removed: w.state.removed, total: w.state.total};
}`

// AddedNode is an element inserted while an action ran.
type AddedNode struct {
	Tag     string `json:"tag"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// MutationReport summarises the DOM changes observed during one action.
type MutationReport struct {
	// Present is false when the observer vanished, i.e. the document was replaced.
	Present bool        `json:"present"`
	Added   []AddedNode `json:"added"`
	Removed int         `json:"removed"`
	Total   int         `json:"total"`
}

// PageReplaced reports whether the document the observer watched is gone.
func (r MutationReport) PageReplaced() bool { return !r.Present }

// Burst reports whether so much of the DOM changed that indices are stale.
func (r MutationReport) Burst() bool {
	return r.Removed+len(r.Added) >= mutationBurstThreshold
}

// Significant applies the filter: hidden nodes (when visibility is required),
// ignored tags and nodes with too little text are dropped.
func (r MutationReport) Significant(filter config.MutationFilterConfig) []AddedNode {
	ignored := make(map[string]bool, len(filter.IgnoreTags))
	for _, t := range filter.IgnoreTags {
		ignored[strings.ToUpper(t)] = true
	}
	var out []AddedNode
	for _, n := range r.Added {
		if ignored[strings.ToUpper(n.Tag)] {
			continue
		}
		if filter.RequireVisible && !n.Visible {
			continue
		}
		if len([]rune(n.Text)) < filter.MinTextLength {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Advisory renders significant nodes as a note for the navigator. Empty when
// nothing worth mentioning appeared.
func Advisory(nodes []AddedNode) string {
	if len(nodes) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("New content appeared after this action; refresh element indices before using it:")
	for i, n := range nodes {
		if i == maxAdvisoryNodes {
			fmt.Fprintf(&sb, "\n- ... and %d more", len(nodes)-maxAdvisoryNodes)
			break
		}
		tag := strings.ToLower(n.Tag)
		if n.Role != "" {
			fmt.Fprintf(&sb, "\n- <%s role=%q> %s", tag, n.Role, n.Text)
		} else {
			fmt.Fprintf(&sb, "\n- <%s> %s", tag, n.Text)
		}
	}
	return sb.String()
}

// MutationWatcher attaches a DOM observer for the span of a single action.
type MutationWatcher struct {
	page   session.Page
	logger *zap.Logger
}

func NewMutationWatcher(page session.Page, logger *zap.Logger) *MutationWatcher {
	return &MutationWatcher{page: page, logger: logger.Named("mutation_watcher")}
}

// Watch is one attached observer. Stop must be called exactly once.
type Watch struct {
	watcher *MutationWatcher
	key     string
	stopped bool
}

// Start installs an observer under a fresh key.
func (w *MutationWatcher) Start(ctx context.Context) (*Watch, error) {
	key := "__webpilot_mut_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	var ok bool
	if err := callScript(ctx, w.page, mutationStartScript, &ok, key); err != nil {
		return nil, fmt.Errorf("failed to attach mutation observer: %w", err)
	}
	return &Watch{watcher: w, key: key}, nil
}

// Stop detaches the observer and collects what it saw. It runs even when the
// action's context has already ended so no observer outlives its action.
func (wt *Watch) Stop(ctx context.Context) (MutationReport, error) {
	var report MutationReport
	if wt.stopped {
		return report, nil
	}
	wt.stopped = true

	stopCtx, cancel := context.WithTimeout(session.Detach(ctx), watchTeardownTimeout)
	defer cancel()
	if err := callScript(stopCtx, wt.watcher.page, mutationStopScript, &report, wt.key); err != nil {
		wt.watcher.logger.Debug("Could not collect mutations.", zap.Error(err))
		return report, fmt.Errorf("failed to detach mutation observer: %w", err)
	}
	return report, nil
}
