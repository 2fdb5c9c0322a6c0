package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoDevice captures from the system default input device. miniaudio
// converts whatever the hardware produces into the requested format.
type MalgoDevice struct{}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

// Open initialises a capture device and starts it.
func (MalgoDevice) Open(bufferSize int, format Format, deliver DeliverFunc) (Stream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(bufferSize)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			deliver(input, time.Now())
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return &malgoStream{ctx: ctx, device: device}, nil
}

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
		if e := s.ctx.Uninit(); e != nil && err == nil {
			err = e
		}
		s.ctx.Free()
	})
	return err
}
