package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Retio-ai/pagemap/internal/browser"
)

func baseFP() *DomFingerprint {
	return &DomFingerprint{
		InteractiveCounts: map[string]int{"button": 12, "link": 8},
		TotalInteractives: 20,
		BodyChildCount:    6,
		Title:             "오버핏 레더 자켓",
		ContentHash:       hashContent("장바구니 담기"),
	}
}

func TestCaptureFingerprint(t *testing.T) {
	sess := &browser.FakeSession{
		EvalFunc: func(string) (json.RawMessage, error) {
			return json.RawMessage(`{
				"interactiveCounts": {"button": 3, "textbox": 1},
				"totalInteractives": 4,
				"hasDialog": true,
				"bodyChildCount": 9,
				"title": "검색 결과",
				"contentSample": "hello"
			}`), nil
		},
	}

	fp := CaptureFingerprint(context.Background(), sess)
	require.NotNil(t, fp)
	assert.Equal(t, 4, fp.TotalInteractives)
	assert.Equal(t, map[string]int{"button": 3, "textbox": 1}, fp.InteractiveCounts)
	assert.True(t, fp.HasDialog)
	assert.Equal(t, 9, fp.BodyChildCount)
	assert.Equal(t, "검색 결과", fp.Title)
	assert.Equal(t, hashContent("hello"), fp.ContentHash)
}

func TestCaptureFingerprintEvalFailure(t *testing.T) {
	sess := &browser.FakeSession{
		EvalFunc: func(string) (json.RawMessage, error) {
			return nil, errors.New("target crashed")
		},
	}
	assert.Nil(t, CaptureFingerprint(context.Background(), sess))
}

func TestCaptureFingerprintBadJSON(t *testing.T) {
	sess := &browser.FakeSession{
		EvalFunc: func(string) (json.RawMessage, error) {
			return json.RawMessage(`"just a string"`), nil
		},
	}
	assert.Nil(t, CaptureFingerprint(context.Background(), sess))
}

func TestCompareFingerprintsNilSides(t *testing.T) {
	v := CompareFingerprints(nil, baseFP())
	assert.False(t, v.Changed)
	assert.Equal(t, "none", v.Severity)

	v = CompareFingerprints(baseFP(), nil)
	assert.Equal(t, "none", v.Severity)
}

func TestCompareFingerprintsIdentical(t *testing.T) {
	v := CompareFingerprints(baseFP(), baseFP())
	assert.False(t, v.Changed)
	assert.Equal(t, "none", v.Severity)
	assert.Empty(t, v.Reasons)
}

func TestCompareFingerprintsTitleChange(t *testing.T) {
	after := baseFP()
	after.Title = "장바구니"

	v := CompareFingerprints(baseFP(), after)
	assert.True(t, v.Changed)
	assert.Equal(t, "major", v.Severity)
	assert.Contains(t, v.Reasons, "title changed")
}

func TestCompareFingerprintsDialog(t *testing.T) {
	after := baseFP()
	after.HasDialog = true
	v := CompareFingerprints(baseFP(), after)
	assert.Equal(t, "major", v.Severity)
	assert.Contains(t, v.Reasons, "dialog appeared")

	// A dialog closing is not a major change on its own.
	before := baseFP()
	before.HasDialog = true
	v = CompareFingerprints(before, baseFP())
	assert.Equal(t, "none", v.Severity)
}

func TestCompareFingerprintsCountDelta(t *testing.T) {
	before := baseFP()
	before.TotalInteractives = 10

	after := baseFP()
	after.TotalInteractives = 14
	v := CompareFingerprints(before, after)
	assert.Equal(t, "major", v.Severity)
	assert.Contains(t, v.Reasons, "interactive elements increased by 4 (40%)")

	after.TotalInteractives = 6
	v = CompareFingerprints(before, after)
	assert.Equal(t, "major", v.Severity)
	assert.Contains(t, v.Reasons, "interactive elements decreased by 4 (40%)")
}

func TestCompareFingerprintsSmallCountDeltaIsMinor(t *testing.T) {
	after := baseFP()
	after.TotalInteractives = 21 // 5% of 20: under both major bounds

	v := CompareFingerprints(baseFP(), after)
	assert.True(t, v.Changed)
	assert.Equal(t, "minor", v.Severity)
	assert.Equal(t, []string{"interactive count changed by 1"}, v.Reasons)
}

func TestCompareFingerprintsBodyChildren(t *testing.T) {
	after := baseFP()
	after.BodyChildCount = 7

	v := CompareFingerprints(baseFP(), after)
	assert.Equal(t, "minor", v.Severity)
	assert.Equal(t, []string{"body child count changed"}, v.Reasons)
}

func TestCompareFingerprintsContentOnly(t *testing.T) {
	after := baseFP()
	after.ContentHash = hashContent("다른 내용")

	v := CompareFingerprints(baseFP(), after)
	assert.Equal(t, "minor", v.Severity)
	assert.Equal(t, []string{"content changed"}, v.Reasons)

	// A content change alongside a count change stays folded into the
	// count reason.
	after.TotalInteractives = 21
	v = CompareFingerprints(baseFP(), after)
	assert.Equal(t, []string{"interactive count changed by 1"}, v.Reasons)
}

func TestHashContentStable(t *testing.T) {
	assert.Equal(t, hashContent("abc"), hashContent("abc"))
	assert.NotEqual(t, hashContent("abc"), hashContent("abd"))
	assert.Len(t, hashContent(""), 16)
}
