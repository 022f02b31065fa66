package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIsSingleInitialization(t *testing.T) {
	first, err := Init()
	require.NoError(t, err)
	require.NotNil(t, first.Handle)
	require.Equal(t, MinorRegionBytes, first.MinorRegionBytes)

	second, err := Init()
	require.NoError(t, err)

	// The exact same configuration, not an equal copy.
	require.Same(t, first, second)
	require.Same(t, first.Handle, second.Handle)
}

func TestHandleReturnsSingletonSegment(t *testing.T) {
	cfg, err := Init()
	require.NoError(t, err)

	seg, err := Handle()
	require.NoError(t, err)
	require.Same(t, cfg.Handle, seg)
}

func TestProcessUseRatios(t *testing.T) {
	seg, err := Handle()
	require.NoError(t, err)

	before := UseRatio()
	require.GreaterOrEqual(t, before, 0.0)
	require.Less(t, before, 0.01)

	require.NoError(t, seg.Set("ratio-probe", make([]byte, 4096)))

	require.Greater(t, UseRatio(), before)
	require.Greater(t, SlotUseRatio(), 0.0)
}

func TestInitAttachedRejectsSecondInit(t *testing.T) {
	// This process already holds a heap configuration (created by the
	// tests above, or by this one's Init call).
	_, err := Init()
	require.NoError(t, err)

	seg, err := createSegment(t.TempDir(), testOptions())
	require.NoError(t, err)
	defer seg.Close()

	_, err = InitAttached(seg)
	require.ErrorContains(t, err, "already initialized")
}

func TestAvailableBytes(t *testing.T) {
	avail, err := availableBytes(t.TempDir())
	require.NoError(t, err)
	require.Greater(t, avail, uint64(0))

	_, err = availableBytes("/definitely/not/a/real/path")
	require.Error(t, err)
}
