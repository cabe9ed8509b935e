package prune

import (
	"time"

	"github.com/Retio-ai/pagemap/internal/tokens"
)

// Result carries the pruned HTML plus the metrics of one pipeline run.
type Result struct {
	RawTokenCount     int
	PrunedTokenCount  int
	TokenReductionPct float64
	ChunkCountTotal   int
	ChunkCountKept    int
	PrunedHTML        string
	ElapsedMS         float64
	FilterStats       FilterStats
	PrunedRegions     []string
	Errors            []string
	MetaChunks        []Chunk
	HeadingChunks     []Chunk
	SelectedChunks    []Chunk
}

// Page runs the full pruning pipeline on one page. The pipeline never
// fails hard: on any error the original HTML is returned with the error
// recorded, so the caller always has something to compress.
func Page(rawHTML string, schemaName string) Result {
	var result Result
	start := time.Now()
	defer func() {
		result.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
	}()

	fallback := func(msg string) Result {
		result.Errors = append(result.Errors, msg)
		result.PrunedHTML = rawHTML
		result.PrunedTokenCount = result.RawTokenCount
		return result
	}

	result.RawTokenCount = tokens.Count(rawHTML)

	metaChunks, doc, err := Preprocess(rawHTML)
	if err != nil {
		return fallback(err.Error())
	}

	result.FilterStats = Filter(doc, schemaName, DefaultFilterThreshold)
	result.PrunedRegions = DerivePrunedRegions(result.FilterStats)

	// Re-chunk after filtering: the DOM was modified in place, and the
	// meta chunks were extracted from raw HTML before scripts were cut.
	domChunks := Decompose(FindBody(doc))
	allChunks := append(append([]Chunk{}, metaChunks...), domChunks...)

	result.ChunkCountTotal = len(allChunks)
	result.MetaChunks = metaChunks
	for _, c := range allChunks {
		if c.Tag == "h1" || c.Attrs["itemprop"] != "" {
			result.HeadingChunks = append(result.HeadingChunks, c)
		}
	}

	if len(allChunks) == 0 {
		return fallback("no chunks after preprocessing and filtering")
	}

	hasMain := false
	for _, c := range allChunks {
		if c.InMain {
			hasMain = true
			break
		}
	}

	decisions := PruneChunks(allChunks, schemaName, hasMain)
	var selected []Chunk
	for _, d := range decisions {
		if d.Decision.Keep {
			selected = append(selected, d.Chunk)
		}
	}
	result.ChunkCountKept = len(selected)
	result.SelectedChunks = selected

	if len(selected) == 0 {
		return fallback("0 chunks selected, returning original HTML")
	}

	merged := Remerge(selected)
	result.PrunedHTML = Compress(merged)
	result.PrunedTokenCount = tokens.Count(result.PrunedHTML)
	if result.RawTokenCount > 0 {
		result.TokenReductionPct = (1.0 - float64(result.PrunedTokenCount)/float64(result.RawTokenCount)) * 100
	}
	return result
}
