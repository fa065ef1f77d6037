package output

import (
	"fmt"

	"github.com/veles-productions/playout-core/internal/model"
)

// HardwareChannel is the binding an SDI card driver must supply (spec.md
// §1: "the hardware SDI/NDI driver bindings" are deliberately out of
// scope — this is the seam a real binding plugs into). Display is
// fire-and-forget from the driver's perspective; the binding is
// responsible for not blocking the caller.
type HardwareChannel interface {
	Open(displayMode string, deviceIndex int) error
	Display(bgra []byte, size model.Size) error
	Close() error
}

// Sdi is the fill+key SDI output driver (spec.md §4.4). If the key
// channel fails to open but fill succeeds, the driver degrades to
// fill-only mode and reports NeedsKeyFrame()==false from then on.
type Sdi struct {
	fill HardwareChannel
	key  HardwareChannel

	displayMode string
	fillDevice  int
	keyDevice   int

	fillOnly bool
	onError  func(op string, err error)
}

// NewSdi opens fill and (optionally) key channels. Hardware init failure
// on the key channel alone is not an error (spec.md §7 item 5); it puts
// the driver in fill-only mode.
func NewSdi(fill, key HardwareChannel, displayMode string, fillDevice, keyDevice int, onError func(op string, err error)) (*Sdi, error) {
	s := &Sdi{
		fill: fill, key: key,
		displayMode: displayMode,
		fillDevice:  fillDevice,
		keyDevice:   keyDevice,
		onError:     onError,
	}

	if err := fill.Open(displayMode, fillDevice); err != nil {
		return nil, fmt.Errorf("output: sdi fill open: %w", err)
	}

	if key == nil {
		s.fillOnly = true
		return s, nil
	}
	if err := key.Open(displayMode, keyDevice); err != nil {
		s.fillOnly = true
		s.key = nil
		return s, nil
	}
	return s, nil
}

func (s *Sdi) Name() string { return "sdi" }

func (s *Sdi) NeedsKeyFrame() bool { return !s.fillOnly }

func (s *Sdi) HasKeyChannel() bool { return !s.fillOnly }

func (s *Sdi) PushFrame(frame model.FrameData) error {
	err := s.fill.Display(frame.Buffer, model.Size{Width: frame.Width, Height: frame.Height})
	if err != nil && s.onError != nil {
		s.onError("pushFrame", err)
	}
	return err
}

func (s *Sdi) PushKeyFrame(frame model.FrameData) error {
	if s.fillOnly || s.key == nil {
		return nil
	}
	err := s.key.Display(frame.Buffer, model.Size{Width: frame.Width, Height: frame.Height})
	if err != nil && s.onError != nil {
		s.onError("pushKeyFrame", err)
	}
	return err
}

func (s *Sdi) Destroy() error {
	err := s.fill.Close()
	if s.key != nil {
		if kerr := s.key.Close(); kerr != nil && err == nil {
			err = kerr
		}
	}
	return err
}
