// internal/browser/actions/kind.go
package actions

import (
	"sort"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

// Kind names one action of the closed action set.
type Kind string

const (
	KindClick      Kind = "click"
	KindFill       Kind = "fill"
	KindSelect     Kind = "select"
	KindScroll     Kind = "scroll"
	KindScreenshot Kind = "screenshot"
	KindNavigate   Kind = "navigate"
	KindWait       Kind = "wait"
	KindExtract    Kind = "extract"
	KindDone       Kind = "done"
)

// -- Argument types --

type ClickArgs struct {
	Index int `json:"index"`
}

type FillArgs struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

// SelectArgs pick a dropdown option. Text matches an option id first, then
// its visible text. OptionIndex is a zero-based position among the options.
type SelectArgs struct {
	Index       int    `json:"index"`
	Text        string `json:"text,omitempty"`
	OptionIndex *int   `json:"option_index,omitempty"`
}

// ScrollArgs scroll one page in Direction, or bring Index into view when set.
type ScrollArgs struct {
	Direction string `json:"direction"`
	Index     *int   `json:"index,omitempty"`
}

type NavigateArgs struct {
	URL string `json:"url"`
}

type WaitArgs struct {
	Seconds int `json:"seconds,omitempty"`
}

type ExtractArgs struct {
	Goal string `json:"goal"`
}

type DoneArgs struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// Command is a validated action with its raw arguments.
type Command struct {
	Kind Kind
	Args json.RawMessage
}

// Name renders the command for logs and results.
func (c Command) Name() string {
	return string(c.Kind)
}

// Decode unmarshals the arguments into dst.
func (c Command) Decode(dst interface{}) error {
	args := c.Args
	if len(args) == 0 || string(args) == "null" {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return taskerr.Wrap(taskerr.CodeInvalidArguments, err, "invalid arguments for %s", c.Kind)
	}
	return nil
}

// -- Registry --

// Spec declares one action kind.
type Spec struct {
	Kind        Kind
	Description string
	Params      *llmutil.Schema
	// IndexBased actions resolve an element index against the current snapshot.
	IndexBased bool
	// ExpectsNavigation actions may change the page; the page is allowed to settle afterwards.
	ExpectsNavigation bool

	handler handler
}

var registry = map[Kind]Spec{}

func register(s Spec) {
	if _, dup := registry[s.Kind]; dup {
		panic("actions: duplicate registration of " + string(s.Kind))
	}
	registry[s.Kind] = s
}

func indexParam() *llmutil.Schema {
	return llmutil.Integer("index of the element in the current browser state")
}

func init() {
	register(Spec{
		Kind:              KindClick,
		Description:       "Click the element with the given index.",
		Params:            llmutil.Object(map[string]*llmutil.Schema{"index": indexParam()}),
		IndexBased:        true,
		ExpectsNavigation: true,
		handler:           handleClick,
	})
	register(Spec{
		Kind:        KindFill,
		Description: "Clear the input element with the given index and type value into it.",
		Params: llmutil.Object(map[string]*llmutil.Schema{
			"index": indexParam(),
			"value": llmutil.String("text to type"),
		}),
		IndexBased: true,
		handler:    handleFill,
	})
	register(Spec{
		Kind:        KindSelect,
		Description: "Choose an option of the dropdown with the given index, by option text or by zero-based option_index.",
		Params: &llmutil.Schema{
			Type: llmutil.TypeObject,
			Properties: map[string]*llmutil.Schema{
				"index":        indexParam(),
				"text":         llmutil.String("option id or visible text"),
				"option_index": llmutil.Integer("zero-based position of the option"),
			},
			Required: []string{"index"},
		},
		IndexBased:        true,
		ExpectsNavigation: true,
		handler:           handleSelect,
	})
	register(Spec{
		Kind:        KindScroll,
		Description: "Scroll one page up or down, or scroll the element with the given index into view. At most one page per step.",
		Params: &llmutil.Schema{
			Type: llmutil.TypeObject,
			Properties: map[string]*llmutil.Schema{
				"direction": {Type: llmutil.TypeString, Enum: []string{"up", "down"}},
				"index":     indexParam(),
			},
			Required: []string{"direction"},
		},
		handler: handleScroll,
	})
	register(Spec{
		Kind:        KindScreenshot,
		Description: "Capture a screenshot of the visible page.",
		Params: &llmutil.Schema{
			Type:       llmutil.TypeObject,
			Properties: map[string]*llmutil.Schema{"reason": llmutil.String("what to look at")},
		},
		handler: handleScreenshot,
	})
	register(Spec{
		Kind:              KindNavigate,
		Description:       "Open the given URL in the current tab.",
		Params:            llmutil.Object(map[string]*llmutil.Schema{"url": llmutil.String("absolute URL")}),
		ExpectsNavigation: true,
		handler:           handleNavigate,
	})
	register(Spec{
		Kind:        KindWait,
		Description: "Wait for the given number of seconds (default 3, at most 10).",
		Params: &llmutil.Schema{
			Type:       llmutil.TypeObject,
			Properties: map[string]*llmutil.Schema{"seconds": llmutil.Integer("seconds to wait")},
		},
		handler: handleWait,
	})
	register(Spec{
		Kind:        KindExtract,
		Description: "Extract the readable text of the page to answer the given goal.",
		Params:      llmutil.Object(map[string]*llmutil.Schema{"goal": llmutil.String("what to look for")}),
		handler:     handleExtract,
	})
	register(Spec{
		Kind:        KindDone,
		Description: "Finish the task with the final answer text.",
		Params: &llmutil.Schema{
			Type: llmutil.TypeObject,
			Properties: map[string]*llmutil.Schema{
				"text":    llmutil.String("final answer"),
				"success": llmutil.Boolean("whether the task was completed"),
			},
			Required: []string{"text"},
		},
		handler: handleDone,
	})
}

// Lookup returns the definition of a kind.
func Lookup(kind Kind) (Spec, bool) {
	s, ok := registry[kind]
	return s, ok
}

// Kinds lists the registered kinds in name order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseCommand validates a single-key action entry such as {"click": {"index": 7}}.
// Unknown names fail with UnknownAction; malformed arguments with InvalidArguments.
func ParseCommand(entry map[string]json.RawMessage) (Command, error) {
	entry = dropNullSiblings(entry)
	if len(entry) != 1 {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Command{}, taskerr.New(taskerr.CodeInvalidArguments,
			"an action entry must name exactly one action, got [%s]", strings.Join(keys, ", "))
	}
	var name string
	var args json.RawMessage
	for k, v := range entry {
		name, args = k, v
	}

	spec, ok := Lookup(Kind(name))
	if !ok {
		return Command{}, taskerr.New(taskerr.CodeUnknownAction, "unknown action %q", name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	if err := spec.Params.ValidateJSON(args); err != nil {
		return Command{}, taskerr.Wrap(taskerr.CodeInvalidArguments, err, "invalid arguments for %s", name)
	}
	return Command{Kind: spec.Kind, Args: args}, nil
}

// dropNullSiblings removes null-valued keys from an entry that also names a
// non-null action, the shape structured output produces for nullable properties.
func dropNullSiblings(entry map[string]json.RawMessage) map[string]json.RawMessage {
	if len(entry) < 2 {
		return entry
	}
	kept := make(map[string]json.RawMessage, 1)
	for k, v := range entry {
		if len(v) != 0 && strings.TrimSpace(string(v)) != "null" {
			kept[k] = v
		}
	}
	if len(kept) == 0 {
		return entry
	}
	return kept
}

// ParseCommands validates a navigator batch, stopping at the first invalid entry.
func ParseCommands(entries []map[string]json.RawMessage) ([]Command, error) {
	cmds := make([]Command, 0, len(entries))
	for _, e := range entries {
		cmd, err := ParseCommand(e)
		if err != nil {
			return cmds, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// ActionSchema describes one navigator action entry: an object with exactly
// one property named after an action.
func ActionSchema() *llmutil.Schema {
	props := make(map[string]*llmutil.Schema, len(registry))
	for k, s := range registry {
		p := *s.Params
		p.Nullable = true
		props[string(k)] = &p
	}
	return &llmutil.Schema{
		Type:          llmutil.TypeObject,
		Properties:    props,
		MinProperties: 1,
		MaxProperties: 1,
	}
}

// Describe renders the action catalogue for prompts, one line per kind.
func Describe() string {
	var sb strings.Builder
	for _, k := range Kinds() {
		s := registry[k]
		params, _ := json.Marshal(s.Params.Properties)
		sb.WriteString("- " + string(k) + ": " + s.Description)
		if len(s.Params.Properties) > 0 {
			sb.WriteString(" Arguments: " + string(params))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
