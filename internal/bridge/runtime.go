package bridge

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/internal/hardware"
	"github.com/temoto/enomesh/internal/mesh"
	"github.com/temoto/enomesh/internal/ptm"
	"github.com/temoto/enomesh/internal/radio"
	"github.com/temoto/enomesh/internal/secmat"
	"github.com/temoto/enomesh/internal/state"
)

// Runtime is Bridge connected to configured frame source, mesh gateway
// and local hardware.
type Runtime struct {
	Bridge    *Bridge
	Transport *mesh.Transport
	Server    *mesh.Server // nil unless mesh.server_enable
	Radio     *radio.Source

	closers []func() error
}

// Start requires initialized state.Global in ctx. Returned runtime is
// not running, see Run.
func Start(ctx context.Context) (*Runtime, error) {
	g := state.GetGlobal(ctx)
	rt := &Runtime{}

	tr, err := mesh.NewTransport(g.Log, g.PubSub, g.Config.Mesh)
	if err != nil {
		return nil, errors.Annotate(err, "bridge Start")
	}
	tr.OnStatus = func(m mesh.Message) {
		g.Log.Infof("mesh status src=%04x present=%t target=%t remaining=%dms", m.Src, m.Present, m.Target, m.RemainingMs)
	}
	rt.Transport = tr

	store := secmat.NewStore(g.Log, g.Storage)
	rt.Bridge = New(g.Log, store, tr, g.Tele, Config{
		QueueSize:  g.Config.QueueSize(),
		Checkpoint: g.Config.CheckpointInterval(),
		AckRetries: g.Config.Mesh.Retries(),
	})
	if files := g.Files(); files != nil {
		files.OnComplete = rt.Bridge.PersistDone
	}
	if err = rt.Bridge.Restore(); err != nil {
		// corrupt table is fatal, never replaced with empty one
		return nil, errors.Annotate(err, "bridge Start")
	}

	if err = rt.startHardware(g); err != nil {
		rt.Close()
		return nil, errors.Annotate(err, "bridge Start")
	}

	rt.Radio = radio.NewSource(g.Log, g.Config.Radio, func(f ptm.Frame) { rt.Bridge.PostFrame(f) })
	if err = rt.Radio.Start(g.PubSub); err != nil {
		rt.Close()
		return nil, errors.Annotate(err, "bridge Start")
	}
	g.Log.Infof("bridge started devices=%d radio=%s mesh=%s", store.Len(), rt.Radio.Topic(), g.Config.Mesh.TopicTx())
	return rt, nil
}

func (self *Runtime) startHardware(g *state.Global) error {
	hw := &g.Config.Hardware
	if g.Config.Mesh.ServerEnable {
		var out mesh.Output
		if hw.LED.Enable {
			led, err := hardware.OpenLED(hw.LED.Chip, uint32(hw.LED.Line))
			if err != nil {
				return err
			}
			self.closers = append(self.closers, led.Close)
			out = led
		}
		self.Server = mesh.NewServer(g.Log, self.Transport, out)
	}
	if hw.Button.Enable {
		b, err := hardware.OpenGPIOButton(g.Log, hw.Button.Chip, uint32(hw.Button.Line), hw.Button.ActiveLow, func() { self.Bridge.PostPress("gpio") })
		if err != nil {
			return err
		}
		self.closers = append(self.closers, b.Close)
		go b.Run()
	}
	if hw.InputEvent.Enable {
		b, err := hardware.OpenInputEventButton(g.Log, hw.InputEvent.Device, uint16(hw.InputEvent.KeyCode), func() { self.Bridge.PostPress("input") })
		if err != nil {
			return err
		}
		self.closers = append(self.closers, b.Close)
		go func() {
			if err := b.Run(); err != nil {
				g.Log.Error(err)
			}
		}()
	}
	return nil
}

// Run blocks until stopch is closed.
func (self *Runtime) Run(stopch <-chan struct{}) { self.Bridge.Run(stopch) }

// Close releases local hardware, call after Run returned.
func (self *Runtime) Close() error {
	errs := make([]error, 0, len(self.closers))
	for i := len(self.closers) - 1; i >= 0; i-- {
		errs = append(errs, self.closers[i]())
	}
	self.closers = nil
	return helpers.FoldErrors(errs)
}
