package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/session"
)

func intp(i int) *int { return &i }

func TestFillFormRequiresFields(t *testing.T) {
	x := testExecutor()
	sess := &browser.FakeSession{}
	cache := cacheWith(productMap(), nil)

	_, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{})
	require.Error(t, err)
	assert.Equal(t, "'fields' must be a non-empty array of {ref, value} objects.", err.Error())

	var ie *InputError
	assert.True(t, errors.As(err, &ie))
}

func TestFillFormRequiresActivePageMap(t *testing.T) {
	x := testExecutor()
	sess := &browser.FakeSession{}
	cache := session.NewPageMapCache(0, 0)

	_, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields: []FormField{{Ref: 2, Value: "청바지"}},
	})
	assert.ErrorIs(t, err, pagemaperr.ErrNoActivePageMap)
}

func TestFillFormValidatesRefsBeforeTyping(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: pm.URL}
	cache := cacheWith(pm, nil)

	_, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields: []FormField{{Ref: 2, Value: "청바지"}, {Ref: 99, Value: "L"}},
	})
	require.Error(t, err)
	assert.Equal(t, "ref [99] not found. Valid refs: 1-3", err.Error())
	assert.Empty(t, sess.Typed, "a bad ref must not leave the form half-filled")
}

func TestFillFormRejectsOverlongValue(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: pm.URL}
	cache := cacheWith(pm, nil)

	long := strings.Repeat("x", MaxTypeValueLength+1)
	_, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields: []FormField{{Ref: 2, Value: long}},
	})
	require.Error(t, err)
	assert.Equal(t, "field [2] value too long (1001 chars, max 1000).", err.Error())
	assert.Empty(t, sess.Typed)
}

func TestFillFormValidatesSubmitRef(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: pm.URL}
	cache := cacheWith(pm, nil)

	_, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields:    []FormField{{Ref: 2, Value: "청바지"}},
		SubmitRef: intp(99),
	})
	require.Error(t, err)
	assert.Equal(t, "ref [99] not found. Valid refs: 1-3", err.Error())
	assert.Empty(t, sess.Typed)
}

func TestFillFormFillsAllFields(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: pm.URL}
	cache := cacheWith(pm, nil)

	res, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields: []FormField{{Ref: 2, Value: "청바지"}, {Ref: 3, Value: "L"}},
	})
	require.NoError(t, err)

	require.Len(t, sess.Typed, 2)
	assert.Equal(t, [2]string{"#q", "청바지"}, sess.Typed[0])
	assert.Equal(t, [2]string{"#size", "L"}, sess.Typed[1])

	require.Len(t, res.Fields, 2)
	assert.Equal(t, FieldResult{Ref: 2, Name: "검색", Status: "filled"}, res.Fields[0])
	assert.Equal(t, FieldResult{Ref: 3, Name: "사이즈", Status: "filled"}, res.Fields[1])

	assert.Equal(t, "Filled 2 of 2 fields", res.Description)
	assert.False(t, res.Submitted)
	assert.True(t, res.RefsExpired, "typed values never match the stored map")
	assert.Nil(t, cache.Active())
	assert.NotNil(t, cache.Lookup(pm.URL), "a fill is a soft invalidation")
}

func TestFillFormSubmitClicks(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{
		URL:    pm.URL,
		Dialog: []browser.Dialog{{Type: "confirm", Message: "주문하시겠습니까?", Dismissed: true}},
	}
	cache := cacheWith(pm, nil)

	res, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields:    []FormField{{Ref: 2, Value: "청바지"}},
		SubmitRef: intp(1),
	})
	require.NoError(t, err)

	require.Len(t, sess.Clicks, 1)
	assert.Equal(t, "#cart", sess.Clicks[0])
	assert.True(t, res.Submitted)
	assert.Equal(t, "Filled 1 of 1 fields and clicked [1] 장바구니 담기", res.Description)
	require.Len(t, res.Dialogs, 1)
	assert.Equal(t, "confirm", res.Dialogs[0].Type)
}

func TestFillFormSubmitNavigates(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: "https://shop.example/orders/done"}
	cache := cacheWith(pm, nil)

	res, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields:    []FormField{{Ref: 2, Value: "청바지"}},
		SubmitRef: intp(1),
	})
	require.NoError(t, err)

	assert.Equal(t, "navigation", res.Change)
	assert.True(t, res.RefsExpired)
	assert.Equal(t, "https://shop.example/orders/done", res.CurrentURL)
	assert.Nil(t, cache.Active())
	assert.Nil(t, cache.Lookup(pm.URL), "navigation evicts the stale URL")
}

func TestFillFormMajorDOMChange(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	before := &session.DomFingerprint{TotalInteractives: 3, Title: "바지 상품", ContentHash: "aaaa"}
	sess := &browser.FakeSession{
		URL: pm.URL,
		EvalFunc: func(js string) (json.RawMessage, error) {
			if strings.Contains(js, "data-pagemap-target") {
				return json.RawMessage("1"), nil
			}
			return json.RawMessage(`{
				"interactiveCounts": {"button": 3},
				"totalInteractives": 3,
				"hasDialog": false,
				"bodyChildCount": 4,
				"title": "주문 완료",
				"contentSample": "감사합니다"
			}`), nil
		},
	}
	cache := cacheWith(pm, before)

	res, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields: []FormField{{Ref: 2, Value: "청바지"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "major", res.Change)
	assert.Contains(t, res.DOMReasons, "title changed")
	assert.Nil(t, cache.Active())
	assert.NotNil(t, cache.Lookup(pm.URL), "dom changes leave the LRU intact")
}

func TestFillFormReportsPerFieldErrors(t *testing.T) {
	x := testExecutor()
	pm := productMap()
	sess := &browser.FakeSession{URL: pm.URL, ActionErr: errors.New("element not found")}
	cache := cacheWith(pm, nil)

	res, err := x.FillForm(context.Background(), sess, cache, FillFormRequest{
		Fields:    []FormField{{Ref: 2, Value: "청바지"}},
		SubmitRef: intp(1),
	})
	require.NoError(t, err)

	require.Len(t, res.Fields, 1)
	assert.Equal(t, "error", res.Fields[0].Status)
	assert.Equal(t, "element not found", res.Fields[0].Error)
	assert.False(t, res.Submitted)
	assert.Equal(t, "Filled 0 of 1 fields; submit click on [1] failed: element not found", res.Description)
}
