// internal/browser/session/fingerprint.go
package session

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// hasherPool reuses FNV hashers; every element of every snapshot is hashed.
var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

// fingerprintAttributes identify an element's purpose. Kept sorted.
var fingerprintAttributes = []string{"action", "aria-label", "for", "href", "name", "placeholder", "role", "title", "type"}

// Fingerprint derives a stable identifier for an element from its tag, id,
// classes, identifying attributes and text. Two snapshots of the same page
// yield the same fingerprint for the same element even though indices differ.
func Fingerprint(el schemas.DOMElement) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(el.TagName))

	if id := el.Attributes["id"]; id != "" {
		sb.WriteString("#" + id)
	}
	if cls := el.Attributes["class"]; cls != "" {
		classes := strings.Fields(cls)
		sort.Strings(classes)
		sb.WriteString("." + strings.Join(classes, "."))
	}
	for _, attr := range fingerprintAttributes {
		if val := el.Attributes[attr]; val != "" {
			fmt.Fprintf(&sb, `[%s="%s"]`, attr, val)
		}
	}
	if el.Text != "" {
		sb.WriteString("|" + truncateRunes(el.Text, 64))
	}

	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	_, _ = hasher.Write([]byte(sb.String()))
	return strconv.FormatUint(hasher.Sum64(), 16)
}

// IsDisabled reports whether the element refuses interaction.
func IsDisabled(el schemas.DOMElement) bool {
	if _, ok := el.Attributes["disabled"]; ok {
		return true
	}
	if el.Attributes["aria-disabled"] == "true" {
		return true
	}
	if IsTextInput(el) {
		_, ok := el.Attributes["readonly"]
		return ok
	}
	return false
}

// IsTextInput reports whether the element accepts typed text.
func IsTextInput(el schemas.DOMElement) bool {
	switch strings.ToUpper(el.TagName) {
	case "TEXTAREA":
		return true
	case "INPUT":
		switch strings.ToLower(el.Attributes["type"]) {
		case "checkbox", "radio", "submit", "button", "reset", "file", "image", "hidden", "range", "color":
			return false
		}
		return true
	}
	switch el.Role {
	case "textbox", "searchbox", "combobox":
		return true
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
