package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/internal/persist"
	"github.com/temoto/enomesh/log2"
	"github.com/temoto/spq"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, DefaultPersistRoot, g.Config.Persist.Root)
			assert.Equal(t, DefaultQueueSize, g.Config.QueueSize())
			assert.Equal(t, DefaultCheckpoint, g.Config.CheckpointInterval())
			assert.Equal(t, 2, g.Config.Mesh.Retries())
			assert.Equal(t, "enomesh", g.Source())
			assert.False(t, g.Tele.Enabled())
		}, ""},

		{"sections", `
bridge { queue_size = 8 checkpoint_sec = 30 }
mqtt { client_id = "hall-1" }
mesh { element_address = 10 publish_address = 49152 ack_retries = 0 }
radio { topic = "scan/adv" }
hardware {
	button { enable = true chip = "/dev/gpiochip1" line = 17 active_low = true }
	input_event { enable = true device = "/dev/input/event2" key_code = 28 }
}
persist { root = "/tmp/enomesh-test" }`,
			func(t testing.TB, ctx context.Context) {
				c := GetGlobal(ctx).Config
				assert.Equal(t, 8, c.QueueSize())
				assert.Equal(t, 30*time.Second, c.CheckpointInterval())
				assert.Equal(t, 10, c.Mesh.ElementAddress)
				assert.Equal(t, 0xc000, c.Mesh.PublishAddress)
				assert.Equal(t, 0, c.Mesh.Retries())
				assert.Equal(t, "scan/adv", c.Radio.Topic)
				assert.True(t, c.Hardware.Button.Enable)
				assert.Equal(t, "/dev/gpiochip1", c.Hardware.Button.Chip)
				assert.Equal(t, 17, c.Hardware.Button.Line)
				assert.True(t, c.Hardware.Button.ActiveLow)
				assert.False(t, c.Hardware.LED.Enable)
				assert.Equal(t, 28, c.Hardware.InputEvent.KeyCode)
				assert.Equal(t, "/tmp/enomesh-test", c.Persist.Root)
				assert.Equal(t, "hall-1", GetGlobal(ctx).Source())
			},
			"",
		},

		{"tele", `tele { enable = true topic_prefix = "t" }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.True(t, g.Tele.Enabled())
				assert.Equal(t, "t/enomesh/report", g.Tele.Topic())
			}, ""},

		{"include-normalize", `
bridge { queue_size = 1 }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "queue-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.QueueSize())
			}, ""},

		{"include-overwrites", `
bridge { queue_size = 1 }
include "queue-7" {}`,
			func(t testing.TB, ctx context.Context) {
				assert.Equal(t, 7, GetGlobal(ctx).Config.QueueSize())
			}, ""},

		{"error-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)
			g.PubSub = mqtt.NewMock()
			g.Storage = persist.NewMemory()
			defer g.Close()

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"queue-7":      "bridge{queue_size=7}",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				cfg.Tele.PersistPath = spq.OnlyForTesting
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, mkCheck(c))
	}
}

func TestInitRequiresBroker(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	g.Storage = persist.NewMemory()
	err := g.Init(ctx, &Config{})
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestCloseOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	lines := []string{}
	log := log2.NewFunc(func(format string, args ...interface{}) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, args...))
		mu.Unlock()
	}, log2.LDebug)
	ctx, g := NewContext(log)
	g.PubSub = mqtt.NewMock()
	g.Storage = persist.NewMemory()
	cfg := &Config{}
	cfg.Tele.Enable = true
	cfg.Tele.PersistPath = spq.OnlyForTesting
	require.NoError(t, g.Init(ctx, cfg))
	require.True(t, g.Tele.Enabled())

	assert.NotPanics(t, g.Close)
	assert.NotPanics(t, g.Close)
	mu.Lock()
	defer mu.Unlock()
	for _, line := range lines {
		assert.NotContains(t, line, "close err")
	}
}
