package hardware

import (
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/log2"
	"github.com/temoto/inputevent-go"
)

const evKey = 0x01 // linux/input-event-codes.h EV_KEY

// KeySpace is default key, so any USB keyboard works as local button.
const KeySpace uint16 = 57

// InputEventButton reports key down of one key from /dev/input/event*.
type InputEventButton struct {
	log     *log2.Log
	r       io.ReadCloser
	code    uint16
	onPress PressFunc
}

func OpenInputEventButton(log *log2.Log, device string, code uint16, onPress PressFunc) (*InputEventButton, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Annotatef(err, "input event device=%s", device)
	}
	return NewInputEventButton(log, f, code, onPress), nil
}

func NewInputEventButton(log *log2.Log, r io.ReadCloser, code uint16, onPress PressFunc) *InputEventButton {
	if code == 0 {
		code = KeySpace
	}
	return &InputEventButton{log: log, r: r, code: code, onPress: onPress}
}

// Run blocks until device read error, Close to stop.
func (self *InputEventButton) Run() error {
	for {
		ie, err := inputevent.ReadOne(self.r)
		if err != nil {
			if errors.Cause(err) == io.EOF {
				return nil
			}
			return errors.Annotate(err, "input event read")
		}
		if ie.Type != evKey || ie.Code != self.code {
			continue
		}
		if ie.Value == int32(inputevent.KeyStateDown) {
			self.log.Debugf("input event key=%d down", ie.Code)
			self.onPress()
		}
	}
}

func (self *InputEventButton) Close() error { return self.r.Close() }
