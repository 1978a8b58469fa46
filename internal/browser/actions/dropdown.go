// internal/browser/actions/dropdown.go
package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

// DropdownKind is the selection strategy for a dropdown element.
type DropdownKind string

const (
	DropdownNative   DropdownKind = "native"
	DropdownListbox  DropdownKind = "listbox"
	DropdownCombobox DropdownKind = "combobox"
	DropdownCustom   DropdownKind = "custom"
)

// Option is one selectable entry of a dropdown.
type Option struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Value    string `json:"value"`
	Position int    `json:"position"`
}

// dropdownState is what dropdownInspectScript reports.
type dropdownState struct {
	Found   bool         `json:"found"`
	Kind    DropdownKind `json:"kind"`
	Options []Option     `json:"options"`
}

type applyResult struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
	Value   string `json:"value"`
	Text    string `json:"text"`
}

func inspectDropdown(ctx context.Context, page session.Page, el schemas.DOMElement) (dropdownState, error) {
	var st dropdownState
	if err := callScript(ctx, page, dropdownInspectScript, &st, el.XPath); err != nil {
		return st, fmt.Errorf("failed to inspect dropdown: %w", err)
	}
	if !st.Found {
		return st, taskerr.New(taskerr.CodeElementNotFound, "dropdown element %d is no longer on the page", el.Index)
	}
	return st, nil
}

// waitForDropdownOptions polls the dropdown every interval until it lists at
// least one option, failing with DropdownTimeout after timeout.
func waitForDropdownOptions(ctx context.Context, page session.Page, el schemas.DOMElement, timeout, interval time.Duration) (dropdownState, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := inspectDropdown(ctx, page, el)
		if err != nil {
			if ctx.Err() != nil {
				return st, taskerr.Cancelled(ctx.Err())
			}
			return st, err
		}
		if len(st.Options) > 0 {
			return st, nil
		}
		if !time.Now().Before(deadline) {
			return st, taskerr.New(taskerr.CodeDropdownTimeout,
				"dropdown %d showed no options within %s", el.Index, timeout)
		}
		select {
		case <-ctx.Done():
			return st, taskerr.Cancelled(ctx.Err())
		case <-ticker.C:
		}
	}
}

// matchOption resolves the requested option: by id, then by exact text, then
// case-insensitive text, then by position (a numeric text counts as a position).
func matchOption(options []Option, args SelectArgs) (Option, error) {
	if args.Text != "" {
		want := strings.TrimSpace(args.Text)
		for _, o := range options {
			if o.ID != "" && o.ID == want {
				return o, nil
			}
		}
		for _, o := range options {
			if o.Text == want {
				return o, nil
			}
		}
		for _, o := range options {
			if strings.EqualFold(o.Text, want) {
				return o, nil
			}
		}
		if args.OptionIndex == nil {
			if n, err := strconv.Atoi(want); err == nil {
				args.OptionIndex = &n
			}
		}
	}
	if args.OptionIndex != nil {
		if i := *args.OptionIndex; i >= 0 && i < len(options) {
			return options[i], nil
		}
	}
	return Option{}, optionNotFound(options, args)
}

func optionNotFound(options []Option, args SelectArgs) error {
	texts := make([]string, len(options))
	for i, o := range options {
		texts[i] = strconv.Quote(o.Text)
	}
	var wanted string
	switch {
	case args.Text != "" && args.OptionIndex != nil:
		wanted = fmt.Sprintf("%q or position %d", args.Text, *args.OptionIndex)
	case args.Text != "":
		wanted = strconv.Quote(args.Text)
	case args.OptionIndex != nil:
		wanted = fmt.Sprintf("position %d", *args.OptionIndex)
	default:
		wanted = "an unspecified option"
	}
	return taskerr.New(taskerr.CodeOptionNotFound, "option %s not found; available options: [%s]",
		wanted, strings.Join(texts, ", "))
}

// selectOption runs the full selection: classify, open and wait for options
// when needed, match, then apply with events.
func selectOption(ctx context.Context, e *env, args SelectArgs) (applyResult, DropdownKind, error) {
	st, err := inspectDropdown(ctx, e.page, e.element)
	if err != nil {
		return applyResult{}, "", err
	}

	if len(st.Options) == 0 {
		// Listboxes and comboboxes often render their options only once opened.
		if st.Kind != DropdownNative {
			if err := e.page.ClickXPath(ctx, e.element.XPath); err != nil {
				return applyResult{}, st.Kind, fmt.Errorf("failed to open dropdown %d: %w", e.element.Index, err)
			}
		}
		st, err = waitForDropdownOptions(ctx, e.page, e.element, e.cfg.DropdownWaitTimeout, e.cfg.DropdownPollInterval)
		if err != nil {
			return applyResult{}, st.Kind, err
		}
	}

	opt, err := matchOption(st.Options, args)
	if err != nil {
		return applyResult{}, st.Kind, err
	}

	var res applyResult
	if err := callScript(ctx, e.page, dropdownApplyScript, &res, e.element.XPath, opt.Position); err != nil {
		return res, st.Kind, fmt.Errorf("failed to apply option %q: %w", opt.Text, err)
	}
	if !res.Applied {
		return res, st.Kind, taskerr.New(taskerr.CodeOptionNotFound, "option %q could not be selected: %s", opt.Text, res.Reason)
	}
	return res, st.Kind, nil
}
