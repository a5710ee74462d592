package browser

import (
	"encoding/json"
	"fmt"
)

// bindingName is the page function that reports captured clicks.
const bindingName = "__stepwiseClick"

const snapshotFn = `const snap = (el, withText) => {
    const r = el.getBoundingClientRect();
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    return {
      tag: el.tagName.toLowerCase(),
      attrs,
      text: withText ? (el.textContent || '').trim() : '',
      bounds: {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height},
      disabled: !!el.disabled,
    };
  };`

// queryScript snapshots every element matching selector and registers it
// under its ref.
func queryScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const reg = window.__stepwiseRefs || (window.__stepwiseRefs = []);
  %s
  return Array.from(document.querySelectorAll(%s)).map((el) => {
    reg.push(el);
    const s = snap(el, true);
    s.ref = String(reg.length - 1);
    s.ancestors = [];
    for (let p = el.parentElement; p && p !== document.documentElement; p = p.parentElement) {
      s.ancestors.push(snap(p, false));
    }
    return s;
  });
})()`, snapshotFn, jsonString(selector))
}

// clickScript dispatches a click at a registered element. It evaluates to
// false when the element is gone.
func clickScript(ref int) string {
	return fmt.Sprintf(`(() => {
  const el = (window.__stepwiseRefs || [])[%d];
  if (!el || !el.isConnected) return false;
  el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
  return true;
})()`, ref)
}

// setValueScript assigns value through the native setter and clears React's
// value tracker so controlled inputs see the change, then dispatches input
// for INPUT and change otherwise.
func setValueScript(ref int, value string) string {
	return fmt.Sprintf(`(() => {
  const el = (window.__stepwiseRefs || [])[%d];
  if (!el || !el.isConnected) return false;
  const protos = {INPUT: HTMLInputElement, TEXTAREA: HTMLTextAreaElement, SELECT: HTMLSelectElement};
  const ctor = protos[el.tagName];
  const desc = ctor && Object.getOwnPropertyDescriptor(ctor.prototype, 'value');
  const last = el.value;
  if (desc && desc.set) desc.set.call(el, %[2]s); else el.value = %[2]s;
  if (el._valueTracker) el._valueTracker.setValue(last);
  el.dispatchEvent(new Event(el.tagName === 'INPUT' ? 'input' : 'change', {bubbles: true}));
  return true;
})()`, ref, jsonString(value))
}

// captureScript installs the pointer-mode click interceptor once per
// document and sets whether it is armed. Synthetic clicks pass through.
func captureScript(armed bool) string {
	return fmt.Sprintf(`(() => {
  window.__stepwiseCapture = %t;
  if (window.__stepwiseCaptureInstalled) return true;
  window.__stepwiseCaptureInstalled = true;
  document.addEventListener('click', (e) => {
    if (!window.__stepwiseCapture || !e.isTrusted) return;
    e.preventDefault();
    e.stopImmediatePropagation();
    window[%s](JSON.stringify({x: e.pageX, y: e.pageY}));
  }, true);
  return true;
})()`, armed, jsonString(bindingName))
}

const locationScript = `({href: location.href, pathname: location.pathname, origin: location.origin})`

const storageScript = `(() => {
  const out = {};
  for (let i = 0; i < localStorage.length; i++) {
    const k = localStorage.key(i);
    out[k] = localStorage.getItem(k);
  }
  return out;
})()`

func setStorageScript(key, value string) string {
	return fmt.Sprintf(`(() => { localStorage.setItem(%s, %s); return true; })()`, jsonString(key), jsonString(value))
}

func removeStorageScript(key string) string {
	return fmt.Sprintf(`(() => { localStorage.removeItem(%s); return true; })()`, jsonString(key))
}

// jsonString renders s as a JavaScript string literal.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
