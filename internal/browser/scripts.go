package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsArg renders a Go value as a JavaScript literal.
func jsArg(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// call renders an immediately invoked function expression over the given arguments.
func call(fn string, args ...interface{}) string {
	rendered := ""
	for i, a := range args {
		if i > 0 {
			rendered += ", "
		}
		rendered += jsArg(a)
	}
	return fmt.Sprintf("(%s)(%s)", fn, rendered)
}

const (
	// Resolves to false when the element is missing.
	prepareInputJS = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.focus();
		if ('value' in el) {
			el.value = '';
			el.dispatchEvent(new Event('input', {bubbles: true}));
		}
		return true;
	}`

	// Falls back to the native value setter when typing did not stick, which
	// also satisfies framework-controlled inputs.
	finalizeInputJS = `(sel, v) => {
		const el = document.querySelector(sel);
		if (!el) return null;
		if (el.value !== v) {
			const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
			const desc = Object.getOwnPropertyDescriptor(proto, 'value');
			if (desc && desc.set) { desc.set.call(el, v); } else { el.value = v; }
			el.dispatchEvent(new Event('input', {bubbles: true}));
		}
		el.dispatchEvent(new Event('change', {bubbles: true}));
		el.blur();
		return el.value;
	}`

	selectOptionJS = `(sel, v) => {
		const el = document.querySelector(sel);
		if (!el || !el.options) return false;
		const want = String(v).trim();
		let idx = -1;
		for (let i = 0; i < el.options.length; i++) {
			const o = el.options[i];
			if (o.value === want || o.text.trim() === want) { idx = i; break; }
		}
		if (idx < 0) return false;
		el.selectedIndex = idx;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`

	setCheckedJS = `(sel, want) => {
		const el = document.querySelector(sel);
		if (!el) return null;
		if (el.checked !== want) { el.click(); }
		if (el.checked !== want) {
			el.checked = want;
			el.dispatchEvent(new Event('change', {bubbles: true}));
		}
		return el.checked;
	}`

	readValueJS = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) return null;
		if (el.type === 'checkbox' || el.type === 'radio') return String(el.checked);
		if ('value' in el) return String(el.value);
		return el.textContent || '';
	}`

	existsJS = `(sel) => document.querySelector(sel) !== null`

	// Reports whether the element can receive a real pointer click.
	visibleJS = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) return null;
		el.scrollIntoView({block: 'center'});
		const r = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
	}`

	jsClickJS = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.click();
		return true;
	}`

	bodyTextJS = `document.body ? document.body.innerText : ''`
)
