//go:build linux

package videosrc

import (
	"context"
	"fmt"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/doorbelld/doorbelld/internal/media"
)

// v4l2Device is the default Device, talking to a /dev/videoN node through
// go4vl's mmap-backed capture loop instead of hand-rolled ioctl plumbing.
type v4l2Device struct {
	path string
	dev  *device.Device
	fps  int
}

func newV4L2Device(path string) *v4l2Device {
	return &v4l2Device{path: path}
}

func (d *v4l2Device) Open(proposed media.Caps) (media.Caps, error) {
	width, height, fps := proposed.Width, proposed.Height, proposed.FrameRate
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if fps <= 0 {
		fps = 15
	}

	dev, err := device.Open(d.path,
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(width),
			Height:      uint32(height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(fps)),
	)
	if err != nil {
		return media.Caps{}, fmt.Errorf("open %s: %w", d.path, err)
	}

	actual, err := dev.GetPixFormat()
	if err != nil {
		_ = dev.Close()
		return media.Caps{}, fmt.Errorf("query pix format %s: %w", d.path, err)
	}

	if err := dev.Start(context.Background()); err != nil {
		_ = dev.Close()
		return media.Caps{}, fmt.Errorf("start streaming %s: %w", d.path, err)
	}

	d.dev = dev
	d.fps = fps

	return media.Caps{
		Width:     int(actual.Width),
		Height:    int(actual.Height),
		FrameRate: fps,
		Format:    "MJPG",
	}, nil
}

func (d *v4l2Device) Read(ctx context.Context) (RawFrame, error) {
	select {
	case <-ctx.Done():
		return RawFrame{}, ctx.Err()
	case frame, ok := <-d.dev.GetOutput():
		if !ok {
			return RawFrame{}, fmt.Errorf("v4l2 device %s: output stream closed", d.path)
		}
		// MJPEG: every decoded frame is independently decodable.
		return RawFrame{Data: append([]byte(nil), frame...), KeyFrame: true}, nil
	}
}

func (d *v4l2Device) Close() error {
	if d.dev == nil {
		return nil
	}
	return d.dev.Close()
}
