package prune

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// DefaultFilterThreshold is the weight below which nodes are removed.
const DefaultFilterThreshold = 0.5

// HTML5 semantic tag default weights via their implicit ARIA roles.
// Header and footer only score 0.0 when they sit directly under body.
var semanticWeights = map[string]float64{
	"main": 1.0, "article": 1.0, "section": 0.8,
	"nav": 0.0, "aside": 0.3, "header": 0.0, "footer": 0.0,
}

// Class and id noise patterns. English names are the norm even on
// Korean sites.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bad[-_]?\b`),
	regexp.MustCompile(`(?i)\badvertis`),
	regexp.MustCompile(`(?i)\bsponsor`),
	regexp.MustCompile(`(?i)\bbanner\b`),
	regexp.MustCompile(`(?i)\brecommend`),
	regexp.MustCompile(`(?i)\brelated\b`),
	regexp.MustCompile(`(?i)\bsidebar\b`),
	regexp.MustCompile(`(?i)\bpopup\b`),
	regexp.MustCompile(`(?i)\bmodal\b`),
	regexp.MustCompile(`(?i)\bcookie\b`),
	regexp.MustCompile(`(?i)\btracking\b`),
	regexp.MustCompile(`(?i)\boverlay\b`),
	regexp.MustCompile(`(?i)\bpromo`),
	regexp.MustCompile(`(?i)\bwidget\b`),
	regexp.MustCompile(`(?i)\btoast\b`),
	regexp.MustCompile(`(?i)\bsnackbar\b`),
}

var contentPatternRe = regexp.MustCompile(`(?i)\b(?:article|content|entry|post|story)\b`)

var (
	displayNoneRe  = regexp.MustCompile(`(?i)display\s*:\s*none`)
	visHiddenRe    = regexp.MustCompile(`(?i)visibility\s*:\s*hidden`)
	opacityZeroRe  = regexp.MustCompile(`(?i)opacity\s*:\s*0(?:\.0+)?(?:\s*;|\s*$)`)
	zeroSizeRe     = regexp.MustCompile(`(?i)(?:width|height)\s*:\s*0(?:px)?(?:\s*;|\s*$)`)
	linkDensityTag = map[string]bool{"div": true, "li": true, "td": true, "th": true, "p": true, "blockquote": true}
)

// FilterStats records what the filter removed and why.
type FilterStats struct {
	TotalNodes     int
	RemovedNodes   int
	RemovalReasons map[string]int
}

func (s *FilterStats) record(reason string) {
	s.RemovedNodes++
	if s.RemovalReasons == nil {
		s.RemovalReasons = map[string]int{}
	}
	s.RemovalReasons[reason]++
}

func isBodyDirectChild(n *html.Node) bool {
	return n.Parent != nil && elementTag(n.Parent) == "body"
}

func countNoiseMatches(classID string) int {
	if strings.TrimSpace(classID) == "" {
		return 0
	}
	count := 0
	for _, p := range noisePatterns {
		if p.MatchString(classID) {
			count++
		}
	}
	return count
}

// hasVisibleFormControls reports whether the subtree contains a visible
// input, select or textarea. Hidden inputs do not count.
func hasVisibleFormControls(n *html.Node) bool {
	found := false
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if found {
			return
		}
		switch elementTag(node) {
		case "input":
			if !strings.EqualFold(attrVal(node, "type"), "hidden") {
				found = true
				return
			}
		case "select", "textarea":
			found = true
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

// linkDensity is the fraction of text length inside anchors.
func linkDensity(n *html.Node) float64 {
	total := len(textContent(n))
	if total == 0 {
		return 0
	}
	linkLen := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if elementTag(node) == "a" {
			linkLen += len(textContent(node))
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return float64(linkLen) / float64(total)
}

// collectGridWhitelist finds containers whose children form 3 or more
// structurally similar siblings with link-heavy content (product grids,
// news lists, ranking tables) and whitelists the container subtree.
// Whitelisted nodes skip the link-density penalty but remain subject to
// hidden-content removal.
func collectGridWhitelist(doc *html.Node) map[*html.Node]bool {
	whitelist := map[*html.Node]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			groups := map[string]int{}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				tag := elementTag(c)
				if tag == "" {
					continue
				}
				key := tag + "\x00" + firstClassToken(attrVal(c, "class"))
				groups[key]++
			}
			for _, count := range groups {
				if count >= 3 && linkDensity(n) > 0.5 {
					markSubtree(n, whitelist)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return whitelist
}

func firstClassToken(class string) string {
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func markSubtree(n *html.Node, set map[*html.Node]bool) {
	set[n] = true
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		markSubtree(c, set)
	}
}

// computeWeight scores one element. Lower weight means more likely
// noise. Priority: explicit role, semantic tag, aria-hidden, inline
// style hiding, class/id noise patterns, link density.
func computeWeight(n *html.Node, schemaName string, gridWhitelisted bool) (float64, string) {
	tag := elementTag(n)

	role := strings.ToLower(attrVal(n, "role"))
	if role != "" {
		switch role {
		case "navigation", "banner":
			return 0.0, "role=" + role
		case "contentinfo":
			// gov.kr pages keep agency contact info in the footer.
			if schemaName == "GovernmentPage" {
				return 0.6, "footer-gov-exception"
			}
			return 0.0, "role=contentinfo"
		case "complementary":
			if hasVisibleFormControls(n) {
				return 0.7, "complementary-with-controls"
			}
			return 0.3, "role=complementary"
		case "main", "article":
			return 1.0, "role=" + role
		case "region":
			return 0.8, "role=region"
		}
	}

	if defaultWeight, ok := semanticWeights[tag]; ok {
		switch tag {
		case "header", "footer":
			if isBodyDirectChild(n) {
				if tag == "footer" && schemaName == "GovernmentPage" {
					return 0.6, "footer-gov-exception"
				}
				return defaultWeight, "semantic-" + tag
			}
			return 0.8, "semantic-" + tag + "-nested"
		case "section":
			if attrVal(n, "aria-label") != "" || attrVal(n, "aria-labelledby") != "" {
				return 0.8, "semantic-section-labeled"
			}
			return 0.6, "semantic-section-unlabeled"
		case "aside":
			if hasVisibleFormControls(n) {
				return 0.7, "aside-with-controls"
			}
			return defaultWeight, "semantic-aside"
		default:
			return defaultWeight, "semantic-" + tag
		}
	}

	if strings.EqualFold(attrVal(n, "aria-hidden"), "true") {
		return 0.0, "aria-hidden"
	}

	if style := attrVal(n, "style"); style != "" {
		switch {
		case displayNoneRe.MatchString(style):
			return 0.0, "display-none"
		case visHiddenRe.MatchString(style):
			return 0.0, "visibility-hidden"
		case opacityZeroRe.MatchString(style):
			return 0.0, "opacity-zero"
		case zeroSizeRe.MatchString(style):
			return 0.0, "zero-size"
		}
	}

	classID := attrVal(n, "class") + " " + attrVal(n, "id")
	noiseCount := countNoiseMatches(classID)
	if noiseCount >= 2 {
		if contentPatternRe.MatchString(classID) {
			return 0.7, "noise-content-override"
		}
		return 0.2, "noise-pattern"
	}

	if !gridWhitelisted && linkDensityTag[tag] {
		if text := textContent(n); len(text) > 50 {
			switch d := linkDensity(n); {
			case d > 0.8:
				return 0.2, "link-density-high"
			case d > 0.5:
				return 0.4, "link-density-medium"
			}
		}
	}

	return 1.0, "default"
}

// Filter removes low-weight nodes and their descendants from the tree
// in place and returns the removal stats.
func Filter(doc *html.Node, schemaName string, threshold float64) FilterStats {
	stats := FilterStats{RemovalReasons: map[string]int{}}
	whitelist := collectGridWhitelist(doc)

	type removal struct {
		node   *html.Node
		reason string
	}
	var toRemove []removal
	removedSet := map[*html.Node]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			stats.TotalNodes++
			tag := elementTag(n)
			if tag != "body" && tag != "html" && tag != "main" {
				weight, reason := computeWeight(n, schemaName, whitelist[n])
				if weight < threshold {
					toRemove = append(toRemove, removal{n, reason})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, r := range toRemove {
		if r.node.Parent == nil || hasRemovedAncestor(r.node, removedSet) {
			continue
		}
		r.node.Parent.RemoveChild(r.node)
		removedSet[r.node] = true
		stats.record(r.reason)
	}
	return stats
}

func hasRemovedAncestor(n *html.Node, removed map[*html.Node]bool) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if removed[cur] {
			return true
		}
	}
	return false
}

// regionByReason maps removal reasons to the landmark region they imply.
var regionByReason = map[string]string{
	"role=navigation":            "navigation",
	"semantic-nav":               "navigation",
	"role=banner":                "header",
	"semantic-header":            "header",
	"role=contentinfo":           "footer",
	"semantic-footer":            "footer",
	"role=complementary":         "complementary",
	"semantic-aside":             "complementary",
	"noise-pattern":              "noise",
	"link-density-high":          "link-list",
	"link-density-medium":        "link-list",
	"aria-hidden":                "hidden",
	"display-none":               "hidden",
	"visibility-hidden":          "hidden",
	"opacity-zero":               "hidden",
	"zero-size":                  "hidden",
	"semantic-section-unlabeled": "section",
}

// DerivePrunedRegions turns removal reasons into the sorted set of
// landmark regions the filter cut, so downstream output can say what
// the page had before pruning.
func DerivePrunedRegions(stats FilterStats) []string {
	set := map[string]bool{}
	for reason := range stats.RemovalReasons {
		if region, ok := regionByReason[reason]; ok {
			set[region] = true
		}
	}
	regions := make([]string, 0, len(set))
	for r := range set {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}
