package browser

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialogRingBounds(t *testing.T) {
	ring := newDialogRing(3)
	for i := 0; i < 5; i++ {
		ring.push(Dialog{Type: "alert", Message: fmt.Sprintf("m%d", i)})
	}
	out := ring.drain()
	require.Len(t, out, 3)
	assert.Equal(t, "m2", out[0].Message)
	assert.Equal(t, "m4", out[2].Message)
}

func TestDialogRingDrainClears(t *testing.T) {
	ring := newDialogRing(maxDialogBuffer)
	ring.push(Dialog{Type: "confirm", Message: "sure?", Dismissed: true})
	assert.Len(t, ring.drain(), 1)
	assert.Empty(t, ring.drain())
}

func TestDialogDecision(t *testing.T) {
	cases := []struct {
		dialogType proto.PageDialogType
		accept     bool
		dismissed  bool
	}{
		{proto.PageDialogTypeAlert, true, false},
		{proto.PageDialogTypeBeforeunload, true, false},
		{proto.PageDialogTypeConfirm, false, true},
		{proto.PageDialogTypePrompt, false, true},
	}
	for _, tc := range cases {
		accept, dismissed := dialogDecision(tc.dialogType)
		assert.Equal(t, tc.accept, accept, string(tc.dialogType))
		assert.Equal(t, tc.dismissed, dismissed, string(tc.dialogType))
	}
}

func TestKeyMapCoversNavigationKeys(t *testing.T) {
	for _, key := range []string{
		"Enter", "Escape", "Tab", "Backspace", "Delete",
		"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight",
		"Home", "End", "PageUp", "PageDown", "Space",
	} {
		_, ok := keyMap[key]
		assert.True(t, ok, key)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.Equal(t, "ko-KR", cfg.Locale)
	assert.Equal(t, 1280, cfg.ViewportWidth)
	assert.Equal(t, 800, cfg.ViewportHeight)
	assert.NotEmpty(t, cfg.UserAgent)
}

func TestFakeSessionGuardBlocksNavigation(t *testing.T) {
	fake := &FakeSession{}
	require.NoError(t, fake.InstallRouteGuard(func(url string) error {
		if url == "http://169.254.169.254/" {
			return fmt.Errorf("blocked")
		}
		return nil
	}))

	require.NoError(t, fake.Navigate(context.Background(), "https://example.com"))
	assert.Error(t, fake.Navigate(context.Background(), "http://169.254.169.254/"))
	assert.Equal(t, []string{"https://example.com"}, fake.Navigations)
	assert.Equal(t, "https://example.com", fake.PageURL())
}

func TestFakeSessionDialogDrain(t *testing.T) {
	fake := &FakeSession{Dialog: []Dialog{{Type: "alert", Message: "hi"}}}
	assert.Len(t, fake.DrainDialogs(), 1)
	assert.Empty(t, fake.DrainDialogs())
}

func TestFakeSessionDefaults(t *testing.T) {
	fake := &FakeSession{}
	assert.True(t, fake.IsAlive(context.Background()))
	assert.Equal(t, 1, fake.TabCount())
	raw, err := fake.Eval(context.Background(), "() => 1")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}
