package contextbuild

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const maxProductImages = 10

var (
	imgTagRe = regexp.MustCompile(`(?is)<img\b[^>]*?>`)

	imgAttrRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsrc=["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bdata-src=["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bdata-lazy-src=["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bdata-original=["']([^"']+)["']`),
	}
	srcsetRe = regexp.MustCompile(`(?i)\bsrcset=["']([^"']+)["']`)

	productImgHintRe = regexp.MustCompile(`(?i)(product|goods|item|detail|gallery|pdp|zoom|main[-_]?img|swiper|slide|hero|primary)`)
	excludeImgRe     = regexp.MustCompile(`(?i)(icon|logo|banner|sprite|ad[_\-]|tracking|pixel|1x1|spacer|blank|svg\+xml|data:image/(?:gif|svg))`)
)

// ExtractProductImages pulls likely product image URLs out of raw HTML.
// Icons, logos and tracking pixels are filtered, hinted images sort
// first, relative URLs are resolved against baseURL, output is capped
// at ten.
func ExtractProductImages(rawHTML, baseURL string) []string {
	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	type candidate struct {
		url     string
		hinted  bool
		ordinal int
	}
	var candidates []candidate
	seen := map[string]bool{}

	for _, tag := range imgTagRe.FindAllString(rawHTML, -1) {
		hinted := productImgHintRe.MatchString(tag)

		var urls []string
		for _, re := range imgAttrRes {
			if m := re.FindStringSubmatch(tag); m != nil {
				urls = append(urls, m[1])
			}
		}
		if m := srcsetRe.FindStringSubmatch(tag); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(strings.TrimSpace(part))
				if len(fields) > 0 {
					urls = append(urls, fields[0])
				}
			}
		}

		for _, raw := range urls {
			u := strings.TrimSpace(raw)
			if u == "" || strings.HasPrefix(u, "data:") || excludeImgRe.MatchString(u) {
				continue
			}
			switch {
			case strings.HasPrefix(u, "//"):
				u = "https:" + u
			case !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://"):
				if base == nil {
					continue
				}
				ref, err := url.Parse(u)
				if err != nil {
					continue
				}
				u = base.ResolveReference(ref).String()
			}
			if seen[u] {
				continue
			}
			seen[u] = true
			candidates = append(candidates, candidate{url: u, hinted: hinted, ordinal: len(candidates)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hinted != candidates[j].hinted {
			return candidates[i].hinted
		}
		return candidates[i].ordinal < candidates[j].ordinal
	})

	out := make([]string, 0, maxProductImages)
	for _, c := range candidates {
		if len(out) == maxProductImages {
			break
		}
		out = append(out, c.url)
	}
	return out
}
