// Package detect extracts ref-addressed interactive elements from the
// browser's accessibility tree. Tier 1 elements carry an explicit
// accessible name, tier 2 elements have an interactive role but no
// name. Refs are sequential in document order and restart at 1 for
// every detection pass.
package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/sanitize"
)

// maxOptionLen caps each extracted option label.
const maxOptionLen = 150

// Interactable is a single addressable UI control.
type Interactable struct {
	Ref        int      `json:"ref"`
	Role       string   `json:"role"`
	Name       string   `json:"name"`
	Affordance string   `json:"affordance"`
	Region     string   `json:"region"`
	Tier       int      `json:"tier"`
	Value      string   `json:"value,omitempty"`
	Options    []string `json:"options,omitempty"`
	Selector   string   `json:"selector,omitempty"`
}

// affordanceMap is total over the interactive role set. Checkbox,
// switch, radio, slider, and scrollbar toggle through a plain click.
var affordanceMap = map[string]string{
	"button":           "click",
	"link":             "click",
	"menuitem":         "click",
	"menuitemcheckbox": "click",
	"menuitemradio":    "click",
	"tab":              "click",
	"treeitem":         "click",
	"option":           "click",
	"gridcell":         "click",
	"cell":             "click",
	"row":              "click",
	"checkbox":         "click",
	"switch":           "click",
	"radio":            "click",
	"slider":           "click",
	"scrollbar":        "click",
	"textbox":          "type",
	"searchbox":        "type",
	"spinbutton":       "type",
	"textarea":         "type",
	"combobox":         "select",
	"listbox":          "select",
}

// landmarkRegions maps landmark container roles to the region name
// their descendants inherit.
var landmarkRegions = map[string]string{
	"banner":        "header",
	"navigation":    "navigation",
	"main":          "main",
	"contentinfo":   "footer",
	"complementary": "complementary",
	"search":        "search",
	"form":          "form",
	"region":        "main",
}

// axNode is the nested form of the flat CDP node list.
type axNode struct {
	role      string
	name      string
	value     string
	backendID proto.DOMBackendNodeID
	children  []*axNode
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	s, _ := v.Value.Val().(string)
	return s
}

// axNodeValue prefers the human-readable valuetext property over the
// raw value.
func axNodeValue(n *proto.AccessibilityAXNode) string {
	for _, p := range n.Properties {
		if string(p.Name) == "valuetext" {
			if s := axString(p.Value); s != "" {
				return s
			}
		}
	}
	return axString(n.Value)
}

// buildTree links the flat getFullAXTree node list into a tree via
// childIds. The first node is the root. Returns nil for an empty list.
func buildTree(nodes []*proto.AccessibilityAXNode) *axNode {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[proto.AccessibilityAXNodeID]*axNode, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = &axNode{
			role:      strings.ToLower(axString(n.Role)),
			name:      strings.TrimSpace(axString(n.Name)),
			value:     strings.TrimSpace(axNodeValue(n)),
			backendID: n.BackendDOMNodeID,
		}
	}
	for _, n := range nodes {
		parent := byID[n.NodeID]
		for _, cid := range n.ChildIDs {
			if child, ok := byID[cid]; ok {
				parent.children = append(parent.children, child)
			}
		}
	}
	return byID[nodes[0].NodeID]
}

// collectOptions gathers option labels under a combobox/listbox,
// recursing through grouping containers.
func collectOptions(n *axNode) []string {
	var opts []string
	for _, c := range n.children {
		switch c.role {
		case "option", "menuitem", "listitem":
			if c.name != "" {
				opts = append(opts, sanitize.Text(c.name, maxOptionLen))
			}
		}
		if c.role == "group" || c.role == "listbox" {
			opts = append(opts, collectOptions(c)...)
		}
	}
	return opts
}

type walker struct {
	out        []Interactable
	ref        int
	seen       map[string]struct{}
	backendIDs map[int]proto.DOMBackendNodeID
}

func (w *walker) walk(n *axNode, region string) {
	if r, ok := landmarkRegions[n.role]; ok {
		region = r
	}

	if affordance, ok := affordanceMap[n.role]; ok {
		name := sanitize.Text(n.name, 0)
		key := n.role + ":" + name

		// Named elements deduplicate by (role, name); unnamed ones
		// are always kept.
		if _, dup := w.seen[key]; !dup || name == "" {
			if name != "" {
				w.seen[key] = struct{}{}
			}
			tier := 2
			if name != "" {
				tier = 1
			}
			var options []string
			if affordance == "select" {
				options = collectOptions(n)
			}
			w.ref++
			w.out = append(w.out, Interactable{
				Ref:        w.ref,
				Role:       n.role,
				Name:       name,
				Affordance: affordance,
				Region:     region,
				Tier:       tier,
				Value:      sanitize.Text(n.value, 0),
				Options:    options,
			})
			if n.backendID != 0 {
				w.backendIDs[w.ref] = n.backendID
			}
		}
	}

	for _, c := range n.children {
		w.walk(c, region)
	}
}

// errTypeName reports a bare type name for warning messages.
func errTypeName(err error) string {
	t := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return t
}

// Detect walks the accessibility tree of the session's current page and
// returns interactables in document order. Failures never propagate:
// any error from the AX subsystem collapses to an empty result plus a
// single warning, so the page map can still ship pruned content.
func Detect(ctx context.Context, sess browser.Session) (items []Interactable, warnings []string) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			warnings = []string{fmt.Sprintf(
				"AX tree detection failed (panic): interactive elements may be incomplete: %v", r)}
		}
	}()

	nodes, err := sess.AXNodes(ctx)
	if err != nil {
		return nil, []string{fmt.Sprintf(
			"AX tree detection failed (%s): interactive elements may be incomplete", errTypeName(err))}
	}
	root := buildTree(nodes)
	if root == nil {
		return nil, nil
	}

	w := &walker{
		seen:       make(map[string]struct{}),
		backendIDs: make(map[int]proto.DOMBackendNodeID),
	}
	w.walk(root, "main")

	// Selector resolution is best-effort; an element without one is
	// still actionable through the executor's in-page search.
	for i := range w.out {
		id, ok := w.backendIDs[w.out[i].Ref]
		if !ok {
			continue
		}
		sel, err := sess.ResolveSelector(ctx, id)
		if err == nil && sel != "" {
			w.out[i].Selector = sel
		}
	}
	return w.out, nil
}
