package devices

import (
	"math"
	"sync"
)

// Synthetic sources stand in for the hardware boundary: demos and tests
// inject input programmatically, and the polled generators produce
// deterministic signals.

// SyntheticKeyboard is a KeyboardSource driven by Inject calls.
type SyntheticKeyboard struct {
	mu sync.Mutex
	cb func(KeyInput)
}

func NewSyntheticKeyboard() *SyntheticKeyboard {
	return &SyntheticKeyboard{}
}

func (s *SyntheticKeyboard) Attach(cb func(KeyInput)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
	return nil
}

func (s *SyntheticKeyboard) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = nil
	return nil
}

// Inject delivers one raw key transition as if an OS hook fired.
func (s *SyntheticKeyboard) Inject(in KeyInput) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(in)
	}
}

// SyntheticMouse is a MouseSource driven by Inject calls.
type SyntheticMouse struct {
	mu sync.Mutex
	cb func(MouseInput)
}

func NewSyntheticMouse() *SyntheticMouse {
	return &SyntheticMouse{}
}

func (s *SyntheticMouse) Attach(cb func(MouseInput)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
	return nil
}

func (s *SyntheticMouse) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = nil
	return nil
}

func (s *SyntheticMouse) Inject(in MouseInput) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(in)
	}
}

// syntheticGaze generates a circular gaze path at a fixed sample rate.
type syntheticGaze struct {
	rate     float64
	lastRead float64
	started  bool
}

func (s *syntheticGaze) Read(now float64) ([]GazeSample, error) {
	if !s.started {
		s.started = true
		s.lastRead = now
		return nil, nil
	}
	n := int((now - s.lastRead) * s.rate)
	if n == 0 {
		return nil, nil
	}
	period := 1.0 / s.rate
	samples := make([]GazeSample, 0, n)
	for i := 1; i <= n; i++ {
		t := s.lastRead + float64(i)*period
		angle := 2 * math.Pi * t / 4.0
		samples = append(samples, GazeSample{
			DeviceTime: t,
			LeftX:      0.4 * math.Cos(angle),
			LeftY:      0.4 * math.Sin(angle),
			LeftPupil:  3.5,
			RightX:     0.4 * math.Cos(angle),
			RightY:     0.4 * math.Sin(angle),
			RightPupil: 3.5,
		})
	}
	s.lastRead += float64(n) * period
	return samples, nil
}

func (s *syntheticGaze) Close() error { return nil }

// syntheticSignal generates per-channel sine frames at a fixed rate, each
// channel at a different frequency.
type syntheticSignal struct {
	channels int
	rate     float64
	lastRead float64
	started  bool
}

func (s *syntheticSignal) ReadFrames(now float64) ([][]float64, error) {
	if !s.started {
		s.started = true
		s.lastRead = now
		return nil, nil
	}
	n := int((now - s.lastRead) * s.rate)
	if n == 0 {
		return nil, nil
	}
	period := 1.0 / s.rate
	frames := make([][]float64, 0, n)
	for i := 1; i <= n; i++ {
		t := s.lastRead + float64(i)*period
		frame := make([]float64, s.channels)
		for ch := range frame {
			frame[ch] = math.Sin(2 * math.Pi * float64(ch+1) * t)
		}
		frames = append(frames, frame)
	}
	s.lastRead += float64(n) * period
	return frames, nil
}

func (s *syntheticSignal) Close() error { return nil }
