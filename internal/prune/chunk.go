// Package prune implements the HTML pruning pipeline: accessibility-weight
// pre-filtering of the DOM, atomic chunk decomposition, schema-driven
// kept/removed decisions, and lossless re-merge compression. The pipeline
// is the token-reduction workhorse behind every page map.
package prune

import "fmt"

// ChunkType classifies an atomic chunk.
type ChunkType string

const (
	ChunkTable     ChunkType = "table"
	ChunkList      ChunkType = "list"
	ChunkTextBlock ChunkType = "text_block"
	ChunkHeading   ChunkType = "heading"
	ChunkMedia     ChunkType = "media"
	ChunkForm      ChunkType = "form"
	ChunkMeta      ChunkType = "meta"
	ChunkRSCData   ChunkType = "rsc_data"
)

// Chunk is an atomic HTML unit extracted from the DOM tree.
type Chunk struct {
	XPath       string
	HTML        string
	Text        string
	Tag         string
	Type        ChunkType
	Attrs       map[string]string
	ParentXPath string
	Depth       int
	InMain      bool
}

// Error is a fatal parsing or pruning failure.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
