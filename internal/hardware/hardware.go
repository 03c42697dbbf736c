// Package hardware is local board IO: push button (GPIO edge or
// /dev/input key) and LED driven by on/off server.
package hardware

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/enomesh/helpers/atomic_clock"
	"github.com/temoto/enomesh/log2"
	gpio "github.com/temoto/gpio-cdev-go"
)

// ButtonPressInterval ignores contact bounce of local button.
const ButtonPressInterval = 400 * time.Millisecond

const edgeTimeout = time.Second

type Config struct {
	Button struct {
		Enable    bool   `hcl:"enable"`
		Chip      string `hcl:"chip"`
		Line      int    `hcl:"line"`
		ActiveLow bool   `hcl:"active_low"`
	} `hcl:"button"`
	LED struct {
		Enable bool   `hcl:"enable"`
		Chip   string `hcl:"chip"`
		Line   int    `hcl:"line"`
	} `hcl:"led"`
	InputEvent struct {
		Enable  bool   `hcl:"enable"`
		Device  string `hcl:"device"`
		KeyCode int    `hcl:"key_code"`
	} `hcl:"input_event"`
}

type PressFunc func()

// GPIOButton reports press edges of one line.
type GPIOButton struct {
	log     *log2.Log
	chip    gpio.Chiper
	ev      gpio.Eventer
	alive   *alive.Alive
	last    atomic_clock.Clock
	onPress PressFunc
}

func OpenGPIOButton(log *log2.Log, chipPath string, line uint32, activeLow bool, onPress PressFunc) (*GPIOButton, error) {
	chip, err := gpio.Open(chipPath, "enomesh")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	b, err := NewGPIOButton(log, chip, line, activeLow, onPress)
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	return b, nil
}

func NewGPIOButton(log *log2.Log, chip gpio.Chiper, line uint32, activeLow bool, onPress PressFunc) (*GPIOButton, error) {
	var flag gpio.RequestFlag
	if activeLow {
		flag |= gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW
	}
	ev, err := chip.GetLineEvent(line, flag, gpio.GPIOEVENT_REQUEST_RISING_EDGE, "enomesh-button")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio.GetLineEvent line=%d", line)
	}
	return &GPIOButton{
		log:     log,
		chip:    chip,
		ev:      ev,
		alive:   alive.NewAlive(),
		onPress: onPress,
	}, nil
}

// Run blocks until Close.
func (self *GPIOButton) Run() {
	if !self.alive.Add(1) {
		return
	}
	defer self.alive.Done()
	for self.alive.IsRunning() {
		edge, err := self.ev.Wait(edgeTimeout)
		if gpio.IsTimeout(err) {
			continue
		}
		if err != nil {
			if self.alive.IsRunning() {
				self.log.Errorf("gpio button Wait err=%v", err)
			}
			return
		}
		if edge.ID != gpio.GPIOEVENT_EVENT_RISING_EDGE {
			continue
		}
		if !self.last.IsZero() && atomic_clock.Since(&self.last) < ButtonPressInterval {
			self.log.Debugf("gpio button bounce")
			continue
		}
		self.last.SetNow()
		self.onPress()
	}
}

func (self *GPIOButton) Close() error {
	self.alive.Stop()
	self.alive.Wait()
	return errors.Annotate(self.ev.Close(), "gpio button close")
}

// LED is one output line, implements mesh.Output.
type LED struct {
	lines gpio.Lineser
	set   gpio.LineSetFunc
}

func OpenLED(chipPath string, line uint32) (*LED, error) {
	chip, err := gpio.Open(chipPath, "enomesh")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	return NewLED(chip, line)
}

func NewLED(chip gpio.Chiper, line uint32) (*LED, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "enomesh-led", line)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio.OpenLines line=%d", line)
	}
	return &LED{lines: lines, set: lines.SetFunc(line)}, nil
}

func (self *LED) SetOnOff(on bool) error {
	var v byte
	if on {
		v = 1
	}
	self.set(v)
	return errors.Annotate(self.lines.Flush(), "led")
}

func (self *LED) Close() error { return self.lines.Close() }
