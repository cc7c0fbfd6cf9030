// internal/browser/scripts.go
package browser

import (
	"encoding/json"
	"fmt"
)

// locatorQuery is serialized into the resolver script. Pick is "", "nth" or
// "last"; an empty pick means all matches, with the first used for element
// operations.
type locatorQuery struct {
	Selector string  `json:"selector"`
	Text     *string `json:"text"`
	Pick     string  `json:"pick"`
	Index    int     `json:"index"`
	Op       string  `json:"op"`
	Name     string  `json:"name,omitempty"`
	Value    string  `json:"value,omitempty"`
}

// Locator operations understood by resolverScript.
const (
	opCount   = "count"
	opVisible = "visible"
	opAttr    = "attr"
	opText    = "text"
	opBox     = "box"
	opClick   = "click"
	opFill    = "fill"
	opSelect  = "select"
	opHTML    = "html"
)

// resolverTemplate resolves a locatorQuery in the page and performs one
// operation on the result. Visibility means a non-empty box that is not
// hidden by display, visibility or opacity.
const resolverTemplate = `
(function(q) {
	const visible = (el) => {
		if (!el || !el.isConnected) return false;
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};
	const text = (el) => (el.innerText !== undefined ? el.innerText : el.textContent) || '';

	let nodes = Array.from(document.querySelectorAll(q.selector));
	if (q.text !== null) {
		nodes = nodes.filter((n) => text(n).includes(q.text));
	}
	if (q.pick === 'last') {
		nodes = nodes.length ? [nodes[nodes.length - 1]] : [];
	} else if (q.pick === 'nth') {
		nodes = q.index >= 0 && q.index < nodes.length ? [nodes[q.index]] : [];
	}
	const el = nodes.length ? nodes[0] : null;

	const run = () => {
	switch (q.op) {
	case 'count':
		return nodes.length;
	case 'visible':
		return visible(el);
	case 'attr':
		return el ? el.getAttribute(q.name) : null;
	case 'text':
		return el ? text(el) : null;
	case 'html':
		return el ? el.outerHTML : null;
	case 'box': {
		if (!el) return null;
		el.scrollIntoView({ block: 'center', inline: 'center' });
		const rect = el.getBoundingClientRect();
		return { x: rect.left + rect.width / 2, y: rect.top + rect.height / 2, visible: visible(el) };
	}
	case 'click':
		if (!el) return false;
		el.click();
		return true;
	case 'fill': {
		if (!el) return false;
		el.focus();
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
		setter.call(el, q.value);
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}
	case 'select': {
		if (!el || !el.options) return false;
		const opt = Array.from(el.options).find((o) => (o.label || o.text || '').trim() === q.value);
		if (!opt) return false;
		el.value = opt.value;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}
	}
	return null;
	};
	// Wrapped so the protocol never sees a bare null or undefined.
	const r = run();
	return { v: r === undefined ? null : r };
})(%s)
`

// scriptResult is the envelope every resolver script returns.
type scriptResult struct {
	V json.RawMessage `json:"v"`
}

// elementBox is the result of the "box" operation.
type elementBox struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

func resolverScript(q locatorQuery) string {
	return fmt.Sprintf(resolverTemplate, jsonEncode(q))
}

// jsonEncode safely encodes a value for injection into a script.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `null`
	}
	return string(b)
}
