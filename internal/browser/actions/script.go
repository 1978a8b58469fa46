package actions

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/browser/session"
)

// callScript invokes a page function with JSON-encoded arguments and decodes
// its return value into out. Scripts are function expressions taking
// positional arguments.
func callScript(ctx context.Context, page session.Page, script string, out interface{}, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return page.Evaluate(ctx, fmt.Sprintf("(%s).apply(null, %s)", script, encoded), out)
}

// resolveXPath is prepended to scripts that locate their target element.
const resolveXPath = `const byXPath = (xpath) => document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;`

const scrollScript = `function(xpath, direction) {
  /*webpilot:scroll*/
  ` + resolveXPath + `
  if (xpath) {
    const el = byXPath(xpath);
    if (!el) { return {found: false, scrollY: window.scrollY}; }
    el.scrollIntoView({block: 'center', inline: 'nearest'});
    return {found: true, scrollY: window.scrollY};
  }
  const before = window.scrollY;
  window.scrollBy(0, (direction === 'up' ? -1 : 1) * window.innerHeight);
  return {found: true, scrollY: window.scrollY, moved: window.scrollY !== before};
}`
