package player

import "io"

// passthroughDecoder treats the source bytes as already-PCM and streams
// them unchanged. It stands in for the board-specific AAC/Opus codec
// backend named in §4.7 ("Supported formats"); swapping in a real decoder
// means providing a DecoderFactory, not touching Worker/session logic.
type passthroughDecoder struct {
	src io.ReadCloser
}

func (d *passthroughDecoder) Read(p []byte) (int, error) { return d.src.Read(p) }
func (d *passthroughDecoder) Close() error                { return d.src.Close() }

// DefaultDecoderFactory returns a DecoderFactory usable until a real
// AAC/Opus decode backend is wired in for the target board.
func DefaultDecoderFactory() DecoderFactory {
	return func(r io.ReadCloser) (Decoder, error) {
		return &passthroughDecoder{src: r}, nil
	}
}

// discardOutput stands in for the output I2S channel until a real ALSA
// playback device is wired in.
type discardOutput struct{}

func (discardOutput) Write(p []byte) (int, error) { return len(p), nil }
func (discardOutput) Close() error                { return nil }

// DefaultOutputFactory returns an OutputFactory usable until a real I2S
// playback backend is wired in for the target board.
func DefaultOutputFactory() OutputFactory {
	return func() (Output, error) { return discardOutput{}, nil }
}
