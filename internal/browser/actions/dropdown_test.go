package actions

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

func TestSelect_NativeByTextSetsMatchingValue(t *testing.T) {
	page := newFakePage("https://example.test/form")
	city := el(4, "SELECT", "", map[string]string{"name": "city"})
	page.dropdowns[city.XPath] = &fakeDropdown{kind: DropdownNative, options: cities()}
	x := newTestExecutor(t, page)

	res, err := x.Execute(context.Background(), command(t, `{"select":{"index":4,"text":"Osaka"}}`), snapshotOf(page.url, city))
	require.NoError(t, err)
	assert.Equal(t, 1, page.dropdowns[city.XPath].selected)
	assert.Contains(t, res.ExtractedContent, `Selected "Osaka" (value "os")`)
	assert.Empty(t, page.clicks, "native selects are never clicked open")
}

func TestSelect_OutOfRangeIndexListsAllOptions(t *testing.T) {
	page := newFakePage("https://example.test/form")
	city := el(4, "SELECT", "", nil)
	dd := &fakeDropdown{kind: DropdownNative, options: cities()}
	page.dropdowns[city.XPath] = dd
	x := newTestExecutor(t, page)

	_, err := x.Execute(context.Background(), command(t, `{"select":{"index":4,"option_index":5}}`), snapshotOf(page.url, city))
	require.ErrorIs(t, err, taskerr.ErrOptionNotFound)
	assert.True(t, taskerr.IsRecoverable(err))
	for _, name := range []string{`"Tokyo"`, `"Osaka"`, `"Kyoto"`} {
		assert.Contains(t, err.Error(), name)
	}
	assert.Zero(t, dd.applied, "page state unchanged")
	assert.False(t, page.mutated())
}

func TestSelect_ByIDThenPosition(t *testing.T) {
	page := newFakePage("https://example.test/form")
	list := el(2, "UL", "", map[string]string{"role": "listbox"})
	dd := &fakeDropdown{kind: DropdownListbox, options: cities()}
	page.dropdowns[list.XPath] = dd
	x := newTestExecutor(t, page)
	snap := snapshotOf(page.url, list)

	_, err := x.Execute(context.Background(), command(t, `{"select":{"index":2,"text":"city-kyoto"}}`), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, dd.selected)

	_, err = x.Execute(context.Background(), command(t, `{"select":{"index":2,"text":"0"}}`), snap)
	require.NoError(t, err)
	assert.Equal(t, 0, dd.selected, "a numeric text with no textual match is a position")
}

func TestSelect_ComboboxOpensAndWaitsForOptions(t *testing.T) {
	page := newFakePage("https://example.test/form")
	combo := el(7, "INPUT", "", map[string]string{"role": "combobox"})
	dd := &fakeDropdown{kind: DropdownCombobox, options: cities(), hiddenPolls: 3}
	page.dropdowns[combo.XPath] = dd
	x := newTestExecutor(t, page)

	res, err := x.Execute(context.Background(), command(t, `{"select":{"index":7,"text":"kyoto"}}`), snapshotOf(page.url, combo))
	require.NoError(t, err)
	assert.Equal(t, []string{combo.XPath}, page.clicks, "the combobox is opened once")
	assert.Equal(t, 2, dd.selected)
	assert.GreaterOrEqual(t, dd.inspected, 4)
	assert.Contains(t, res.ExtractedContent, `"Kyoto"`)
}

func TestSelect_DropdownTimeout(t *testing.T) {
	page := newFakePage("https://example.test/form")
	custom := el(3, "DIV", "Pick one", map[string]string{"aria-haspopup": "true"})
	page.dropdowns[custom.XPath] = &fakeDropdown{kind: DropdownCustom, options: cities(), hiddenPolls: 1000}
	x := newTestExecutor(t, page)

	_, err := x.Execute(context.Background(), command(t, `{"select":{"index":3,"text":"Tokyo"}}`), snapshotOf(page.url, custom))
	require.ErrorIs(t, err, taskerr.ErrDropdownTimeout)
	assert.True(t, taskerr.IsRecoverable(err))
}

func TestSelect_RequiresTextOrPosition(t *testing.T) {
	page := newFakePage("https://example.test/form")
	city := el(1, "SELECT", "", nil)
	page.dropdowns[city.XPath] = &fakeDropdown{kind: DropdownNative, options: cities()}
	x := newTestExecutor(t, page)

	_, err := x.Execute(context.Background(), command(t, `{"select":{"index":1}}`), snapshotOf(page.url, city))
	assert.ErrorIs(t, err, taskerr.ErrInvalidArguments)
}

func TestWaitForDropdownOptions_Cancelled(t *testing.T) {
	page := newFakePage("https://example.test/form")
	city := el(1, "SELECT", "", nil)
	page.dropdowns[city.XPath] = &fakeDropdown{kind: DropdownNative, hiddenPolls: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := waitForDropdownOptions(ctx, page, city, testAgentConfig().DropdownWaitTimeout, 0)
	assert.True(t, taskerr.IsCancelled(err))
}

// For unique option texts, selecting by a text that matches exactly one option
// yields that option; a text matching nothing lists every option.
func TestMatchOption_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		options := make([]Option, n)
		for i := range options {
			options[i] = Option{Text: fmt.Sprintf("City %d", i), Value: "v" + strconv.Itoa(i), Position: i}
		}
		pick := rapid.IntRange(0, n-1).Draw(rt, "pick")

		got, err := matchOption(options, SelectArgs{Text: options[pick].Text})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if got.Value != options[pick].Value {
			rt.Fatalf("selected %q, want %q", got.Value, options[pick].Value)
		}

		_, err = matchOption(options, SelectArgs{Text: "Atlantis"})
		if taskerr.CodeOf(err) != taskerr.CodeOptionNotFound {
			rt.Fatalf("expected OptionNotFound, got %v", err)
		}
		for _, o := range options {
			if !assert.Contains(rt, err.Error(), strconv.Quote(o.Text)) {
				rt.FailNow()
			}
		}
	})
}

func TestMatchOption_Order(t *testing.T) {
	options := []Option{
		{ID: "Osaka", Text: "Tokyo", Value: "a", Position: 0},
		{ID: "", Text: "Osaka", Value: "b", Position: 1},
		{ID: "", Text: "osaka", Value: "c", Position: 2},
	}
	got, err := matchOption(options, SelectArgs{Text: "Osaka"})
	require.NoError(t, err)
	assert.Equal(t, "a", got.Value, "ids are matched before texts")

	got, err = matchOption(options, SelectArgs{Text: "osaka"})
	require.NoError(t, err)
	assert.Equal(t, "c", got.Value, "exact text wins over case-insensitive")

	two := 2
	got, err = matchOption(options, SelectArgs{OptionIndex: &two})
	require.NoError(t, err)
	assert.Equal(t, "c", got.Value)

	neg := -1
	_, err = matchOption(options, SelectArgs{OptionIndex: &neg})
	assert.ErrorContains(t, err, "position -1")
}
