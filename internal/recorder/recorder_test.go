package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/media"
)

func TestSegmentNameRoundTrip(t *testing.T) {
	wall := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	path := segmentName("/rec", wall, 7)

	gotWall, gotIdx, ok := ParseSegmentName(filepath.Base(path))
	require.True(t, ok)
	assert.Equal(t, 7, gotIdx)
	assert.True(t, gotWall.Equal(wall), "expected %v got %v", wall, gotWall)
}

func TestParseSegmentNameSkipsUnmatchedFiles(t *testing.T) {
	_, _, ok := ParseSegmentName("not-a-segment.mp4")
	assert.False(t, ok)

	_, _, ok = ParseSegmentName("capture-20260305_143000_UTC-3.mov")
	assert.False(t, ok)
}

func TestSegmentFinalizeOrdersMoovBeforeMdat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.mp4")

	seg := NewSegment(path, media.Caps{SampleRate: 48000, Channels: 1}, media.Caps{}, true, false, 0)
	require.NoError(t, seg.Append(media.Frame{Kind: media.Audio, PTSMillis: 0, Data: []byte{1, 2, 3, 4}}))
	require.NoError(t, seg.Append(media.Frame{Kind: media.Audio, PTSMillis: 20, Data: []byte{5, 6, 7, 8}}))
	require.NoError(t, seg.Finalize())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	moovIdx := bytes.Index(raw, []byte("moov"))
	mdatIdx := bytes.Index(raw, []byte("mdat"))
	require.NotEqual(t, -1, moovIdx)
	require.NotEqual(t, -1, mdatIdx)
	assert.Less(t, moovIdx, mdatIdx, "moov must precede mdat for progressive playback")

	ftypIdx := bytes.Index(raw, []byte("ftyp"))
	require.NotEqual(t, -1, ftypIdx)
	assert.Less(t, ftypIdx, moovIdx)
}

func TestSegmentFinalizeEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.mp4")
	seg := NewSegment(path, media.Caps{}, media.Caps{}, true, false, 0)
	require.NoError(t, seg.Finalize())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderRotatesOnSliceDuration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	clock := now

	r, err := NewRecorder(Config{
		Dir:           dir,
		SliceDuration: time.Minute,
		HasAudio:      true,
		AudioCaps:     media.Caps{SampleRate: 48000, Channels: 1},
		Now:           func() time.Time { return clock },
	})
	require.NoError(t, err)

	r.Accept(media.Frame{Kind: media.Audio, PTSMillis: 0, Data: []byte{1, 2}})
	firstPath := r.CurrentPath()
	require.NotEmpty(t, firstPath)

	clock = clock.Add(2 * time.Minute)
	r.Accept(media.Frame{Kind: media.Audio, PTSMillis: 2000, Data: []byte{3, 4}})
	secondPath := r.CurrentPath()

	assert.NotEqual(t, firstPath, secondPath)
	require.NoError(t, r.Close())
}

func TestReaperNeverDeletesOpenSegment(t *testing.T) {
	dir := t.TempDir()
	old := segmentName(dir, time.Now().Add(-48*time.Hour), 0)
	require.NoError(t, os.WriteFile(old, []byte("stale"), 0o644))

	openPath := segmentName(dir, time.Now(), 1)
	require.NoError(t, os.WriteFile(openPath, []byte("live"), 0o644))

	reaper := NewReaper(ReaperConfig{
		Dir:            dir,
		RetentionHours: 1,
		CurrentPath:    func() string { return openPath },
	})

	// The "open" segment's embedded timestamp is recent so it wouldn't be
	// swept anyway; force it stale to prove CurrentPath is what protects it.
	staleOpen := segmentName(dir, time.Now().Add(-48*time.Hour), 2)
	require.NoError(t, os.Rename(openPath, staleOpen))
	reaper = NewReaper(ReaperConfig{
		Dir:            dir,
		RetentionHours: 1,
		CurrentPath:    func() string { return staleOpen },
	})

	require.NoError(t, reaper.Sweep())

	_, err := os.Stat(staleOpen)
	assert.NoError(t, err, "currently-open segment must survive the sweep")

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err), "stale non-open segment must be deleted")
}

func TestReaperSkipsUnmatchedFilenames(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(junk, []byte("hi"), 0o644))

	reaper := NewReaper(ReaperConfig{Dir: dir, RetentionHours: 1})
	require.NoError(t, reaper.Sweep())

	_, err := os.Stat(junk)
	assert.NoError(t, err)
}
