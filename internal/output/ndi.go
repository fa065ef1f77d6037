package output

import (
	"fmt"

	"github.com/veles-productions/playout-core/internal/model"
)

// NDISender is the binding an NDI SDK wrapper must supply (spec.md §1:
// hardware/SDK bindings are deliberately out of scope for the core).
type NDISender interface {
	Open(senderName string) error
	Send(bgra []byte, width, height, stride, frameRate int) error
	Close() error
}

// Ndi is the NDI network output driver: single BGRA stream with native
// alpha, no separate key channel (spec.md §4.4).
type Ndi struct {
	sender     NDISender
	senderName string
	frameRate  int
	onError    func(op string, err error)
}

// NewNdi opens an NDI sender under senderName.
func NewNdi(sender NDISender, senderName string, frameRate int, onError func(op string, err error)) (*Ndi, error) {
	if err := sender.Open(senderName); err != nil {
		return nil, fmt.Errorf("output: ndi open: %w", err)
	}
	return &Ndi{sender: sender, senderName: senderName, frameRate: frameRate, onError: onError}, nil
}

func (n *Ndi) Name() string        { return "ndi" }
func (n *Ndi) NeedsKeyFrame() bool { return false }
func (n *Ndi) HasKeyChannel() bool { return false }

func (n *Ndi) PushFrame(frame model.FrameData) error {
	stride := frame.Width * 4
	err := n.sender.Send(frame.Buffer, frame.Width, frame.Height, stride, n.frameRate)
	if err != nil && n.onError != nil {
		n.onError("pushFrame", err)
	}
	return err
}

// PushKeyFrame is never called because NeedsKeyFrame is always false,
// but the driver still satisfies model.OutputDriver.
func (n *Ndi) PushKeyFrame(frame model.FrameData) error { return nil }

func (n *Ndi) Destroy() error { return n.sender.Close() }
