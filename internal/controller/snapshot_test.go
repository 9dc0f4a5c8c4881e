package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotRestore_ProcessedSurvivesJSON(t *testing.T) {
	src := New(succeed("https://x/out.png"), zap.NewNop(), Options{})
	selectPNG(t, src, 4, 3)
	require.NoError(t, src.ProcessImage(context.Background()))
	src.ToggleFullScreen()

	data, err := json.Marshal(src.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	dst := New(succeed("unused"), zap.NewNop(), Options{})
	require.NoError(t, dst.Restore(snap))

	assert.Equal(t, src.View(), dst.View())
	assert.Equal(t, src.Snapshot().Version, dst.Snapshot().Version)
	st, ok := dst.State().(Processed)
	require.True(t, ok)
	assert.Equal(t, "https://x/out.png", st.URL())
}

func TestRestore_ProcessingComesBackSelected(t *testing.T) {
	img := Image{DataURI: "data:image/png;base64,AAAA", MediaType: "image/png", Size: 3}
	c := New(succeed("https://x/out.png"), zap.NewNop(), Options{})

	require.NoError(t, c.Restore(Snapshot{Phase: PhaseProcessing, Image: &img}))

	assert.Equal(t, Selected{Image: img}, c.State())
	assert.True(t, c.View().CanProcess())
}

func TestRestore_RejectsInconsistentSnapshots(t *testing.T) {
	img := Image{DataURI: "data:image/png;base64,AAAA"}
	tests := []struct {
		name string
		snap Snapshot
	}{
		{name: "selected without image", snap: Snapshot{Phase: PhaseSelected}},
		{name: "processed without result", snap: Snapshot{Phase: PhaseProcessed, Image: &img}},
		{name: "unknown phase", snap: Snapshot{Phase: "uploading"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(succeed("https://x/out.png"), zap.NewNop(), Options{})
			err := c.Restore(tt.snap)
			require.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.Equal(t, Empty{}, c.State())
		})
	}
}
