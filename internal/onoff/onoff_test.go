package onoff

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/enomesh/internal/debounce"
	"github.com/temoto/enomesh/log2"
)

type sent struct {
	set    Set
	repeat int // 0 for acknowledged
}

type fakeTransport struct {
	sent      []sent
	done      map[uint8]func(Outcome)
	cancelled []uint8
	err       error
}

func (self *fakeTransport) SendUnacknowledged(set Set, repeat int) error {
	if self.err != nil {
		return self.err
	}
	self.sent = append(self.sent, sent{set, repeat})
	return nil
}

func (self *fakeTransport) SendAcknowledged(set Set, done func(Outcome)) error {
	if self.err != nil {
		return self.err
	}
	self.sent = append(self.sent, sent{set: set})
	self.done[set.TID] = done
	return nil
}

func (self *fakeTransport) Cancel(tid uint8) { self.cancelled = append(self.cancelled, tid) }

// syncLoop executes posted functions immediately.
func syncLoop(f func()) bool { f(); return true }

func newTestDispatcher(t testing.TB, retries int) (*Dispatcher, *fakeTransport, *[]Outcome) {
	ft := &fakeTransport{done: make(map[uint8]func(Outcome))}
	d := NewDispatcher(log2.NewTest(t, log2.LDebug), ft, syncLoop, retries)
	outcomes := []Outcome{}
	d.OnOutcome = func(p Pending, o Outcome) { outcomes = append(outcomes, o) }
	return d, ft, &outcomes
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		b      debounce.Button
		expect bool
	}{
		{debounce.ButtonA0, true},
		{debounce.ButtonA1, false},
		{debounce.ButtonB0, true},
		{debounce.ButtonB1, false},
	}
	var tr Translator
	for i, c := range cases {
		s := tr.Translate(c.b)
		assert.Equal(t, c.expect, s.OnOff, "button=%s", c.b)
		assert.Equal(t, uint8(i), s.TID)
		assert.Equal(t, TransitionTime, s.Transition)
		assert.Equal(t, Delay, s.Delay)
	}
	assert.Panics(t, func() { tr.Translate(debounce.ButtonNone) })
}

func TestTranslateWrap(t *testing.T) {
	t.Parallel()

	tr := Translator{tid: 255}
	assert.Equal(t, uint8(255), tr.Next(true).TID)
	assert.Equal(t, uint8(0), tr.Next(true).TID)
}

func TestSendUnacknowledged(t *testing.T) {
	t.Parallel()

	d, ft, _ := newTestDispatcher(t, 2)
	var tr Translator
	require.NoError(t, d.SendUnacknowledged(tr.Translate(debounce.ButtonA0)))
	require.Len(t, ft.sent, 1)
	assert.Equal(t, UnackRepeat, ft.sent[0].repeat)
	assert.Equal(t, 0, d.PendingLen())

	ft.err = fmt.Errorf("not connected")
	assert.Error(t, d.SendUnacknowledged(tr.Translate(debounce.ButtonA1)))
}

func TestSendAcknowledged(t *testing.T) {
	t.Parallel()

	type step struct {
		outcome Outcome
		resent  bool
	}
	cases := []struct {
		name    string
		retries int
		steps   []step
		final   Outcome
	}{
		{"success", 2, []step{{OutcomeSuccess, false}}, OutcomeSuccess},
		{"timeout-then-success", 2, []step{{OutcomeTimeout, true}, {OutcomeSuccess, false}}, OutcomeSuccess},
		{"timeout-exhausted", 1, []step{{OutcomeTimeout, true}, {OutcomeTimeout, false}}, OutcomeTimeout},
		{"no-retries", 0, []step{{OutcomeTimeout, false}}, OutcomeTimeout},
		{"cancelled-by-transport", 2, []step{{OutcomeCancelled, false}}, OutcomeCancelled},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			d, ft, outcomes := newTestDispatcher(t, c.retries)
			set := Set{OnOff: true, TID: 7}
			require.NoError(t, d.SendAcknowledged(set))
			p, ok := d.Pending(7)
			require.True(t, ok)
			assert.Equal(t, c.retries, p.RepeatRemaining)
			assert.True(t, p.Target)

			for i, s := range c.steps {
				n := len(ft.sent)
				ft.done[7](s.outcome)
				if s.resent {
					require.Len(t, ft.sent, n+1, "step=%d", i)
					assert.Equal(t, set, ft.sent[n].set, "repeat keeps tid")
				} else {
					assert.Len(t, ft.sent, n, "step=%d", i)
				}
			}
			assert.Equal(t, []Outcome{c.final}, *outcomes)
			_, ok = d.Pending(7)
			assert.False(t, ok)
		})
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	d, ft, outcomes := newTestDispatcher(t, 2)
	require.NoError(t, d.SendAcknowledged(Set{TID: 1}))
	assert.Error(t, d.SendAcknowledged(Set{TID: 1}), "duplicate tid while pending")
	d.Cancel(1)
	assert.Equal(t, []uint8{1}, ft.cancelled)
	assert.Equal(t, []Outcome{OutcomeCancelled}, *outcomes)

	// late outcome from transport is ignored
	ft.done[1](OutcomeSuccess)
	assert.Equal(t, []Outcome{OutcomeCancelled}, *outcomes)
	d.Cancel(1)
	assert.Len(t, ft.cancelled, 1)
}

func TestSendAcknowledgedError(t *testing.T) {
	t.Parallel()

	d, ft, _ := newTestDispatcher(t, 2)
	ft.err = fmt.Errorf("not connected")
	assert.Error(t, d.SendAcknowledged(Set{TID: 3}))
	assert.Equal(t, 0, d.PendingLen())
}
