package browser

import (
	"context"

	"github.com/go-rod/rod/lib/proto"
)

// uniqueSelectorJS computes a stable CSS selector for the element bound
// as `this`. Preference order: id, test attributes, aria-label, name,
// href, then an nth-of-type path anchored at the nearest id ancestor.
const uniqueSelectorJS = `function() {
    const el = this;
    if (!el || el.nodeType !== 1) return "";
    if (el.id) return "#" + CSS.escape(el.id);
    const TA = ["data-testid", "data-test-id", "data-cy", "data-test"];
    for (const a of TA) {
        const v = el.getAttribute(a);
        if (v) return "[" + a + '="' + CSS.escape(v) + '"]';
    }
    const al = el.getAttribute("aria-label");
    if (al) {
        const sel = el.localName + '[aria-label="' + CSS.escape(al) + '"]';
        try { if (document.querySelectorAll(sel).length === 1) return sel; } catch (e) {}
    }
    const na = el.getAttribute("name");
    if (na) {
        const sel = el.localName + '[name="' + CSS.escape(na) + '"]';
        try { if (document.querySelectorAll(sel).length === 1) return sel; } catch (e) {}
    }
    if (el.localName === "a") {
        const href = el.getAttribute("href");
        if (href) {
            const sel = 'a[href="' + CSS.escape(href) + '"]';
            try { if (document.querySelectorAll(sel).length === 1) return sel; } catch (e) {}
        }
    }
    const path = [];
    let cur = el;
    while (cur && cur.nodeType === 1) {
        let seg = cur.localName;
        if (cur.id) { path.unshift("#" + CSS.escape(cur.id)); break; }
        const parent = cur.parentElement;
        if (parent) {
            const sibs = Array.from(parent.children).filter(
                s => s.localName === cur.localName
            );
            if (sibs.length > 1) {
                seg += ":nth-of-type(" + (sibs.indexOf(cur) + 1) + ")";
            }
        }
        path.unshift(seg);
        cur = cur.parentElement;
    }
    return path.join(" > ");
}`

// ResolveSelector maps an accessibility node's backing DOM node to a
// unique CSS selector. Returns "" without error when the node has no
// resolvable remote object.
func (s *rodSession) ResolveSelector(ctx context.Context, backendID proto.DOMBackendNodeID) (string, error) {
	page := s.page.Context(ctx).Timeout(elementTimeout)
	resolved, err := proto.DOMResolveNode{BackendNodeID: backendID}.Call(page)
	if err != nil {
		return "", err
	}
	if resolved.Object == nil || resolved.Object.ObjectID == "" {
		return "", nil
	}
	res, err := proto.RuntimeCallFunctionOn{
		ObjectID:            resolved.Object.ObjectID,
		FunctionDeclaration: uniqueSelectorJS,
		ReturnByValue:       true,
	}.Call(page)
	if err != nil {
		return "", err
	}
	if res.Result == nil {
		return "", nil
	}
	sel, _ := res.Result.Value.Val().(string)
	return sel, nil
}
