package player

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passthroughDecoder struct {
	r io.ReadCloser
}

func (d *passthroughDecoder) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *passthroughDecoder) Close() error                { return d.r.Close() }

type collectingOutput struct {
	buf bytes.Buffer
}

func (o *collectingOutput) Write(p []byte) (int, error) { return o.buf.Write(p) }
func (o *collectingOutput) Close() error                { return nil }

func newTestWorker(t *testing.T, out *collectingOutput) *Worker {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= maxChimeIndex+1; i++ {
		content := bytes.Repeat([]byte{byte(i)}, 16)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmtBell(i)), content, 0o644))
	}

	w, err := NewWorker(Config{
		AudioDir: dir,
		DecoderFactory: func(r io.ReadCloser) (Decoder, error) {
			return &passthroughDecoder{r: r}, nil
		},
		OutputFactory: func() (Output, error) { return out, nil },
	})
	require.NoError(t, err)
	t.Cleanup(w.Exit)
	return w
}

func fmtBell(i int) string { return "bell_" + itoa(i) + ".aac" }
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestIndexToPathRange(t *testing.T) {
	w := newTestWorker(t, &collectingOutput{})

	path, err := w.IndexToPath(0)
	require.NoError(t, err)
	assert.Contains(t, path, "bell_1.aac")

	_, err = w.IndexToPath(-1)
	assert.Error(t, err)
	_, err = w.IndexToPath(maxChimeIndex + 1)
	assert.Error(t, err)
}

func TestPlayIndexRejectsOutOfRange(t *testing.T) {
	w := newTestWorker(t, &collectingOutput{})
	err := w.PlayIndex(maxChimeIndex + 5)
	assert.Error(t, err)
}

func TestPlayIndexWritesDecodedAudio(t *testing.T) {
	out := &collectingOutput{}
	w := newTestWorker(t, out)

	require.NoError(t, w.PlayIndex(0))

	require.Eventually(t, func() bool {
		return out.buf.Len() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestOverlappingPlayStopsPriorSession(t *testing.T) {
	out := &collectingOutput{}
	w := newTestWorker(t, out)

	require.NoError(t, w.PlayIndex(0))
	require.NoError(t, w.PlayIndex(1))

	require.Eventually(t, func() bool {
		return out.buf.Len() > 0
	}, time.Second, 5*time.Millisecond)
}
