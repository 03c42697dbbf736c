package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/internal/persist"
	"github.com/temoto/enomesh/internal/tele"
	"github.com/temoto/enomesh/log2"
)

const ContextKey = "run/state-global"

// Global is process wide shared state: config, logger, broker connection,
// storage, telemetry.
type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	// PubSub set before Init is used as is, otherwise Init connects to mqtt.broker.
	PubSub mqtt.PubSub
	// Storage set before Init is used as is, otherwise files under persist.root.
	Storage persist.Storage
	Tele    *tele.Tele

	mqttClient *mqtt.Client
	files      *persist.Files
	closeOnce  sync.Once
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  tele.New(),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if g.Config.Bridge.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = DefaultPersistRoot
		g.Log.Infof("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)
	if g.Storage == nil {
		g.files = persist.NewFiles(g.Log, g.Config.Persist.Root)
		g.Storage = g.files
	}

	if g.PubSub == nil {
		if g.Config.Mqtt.Broker == "" {
			return errors.NotValidf("config: mqtt.broker=empty")
		}
		c, err := mqtt.NewClient(g.Log, g.Config.Mqtt)
		if err != nil {
			return errors.Annotate(err, "mqtt init")
		}
		g.mqttClient = c
		g.PubSub = c
	}

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	if err := g.Tele.Init(g.Log.Clone(log2.LInfo), g.PubSub, g.Config.Tele, g.Source()); err != nil {
		return errors.Annotate(err, "tele init")
	}
	if g.Tele.Enabled() {
		g.Log.SetErrorFunc(g.Tele.Error)
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Source identifies this node in telemetry.
func (g *Global) Source() string {
	if g.Config != nil && g.Config.Mqtt.ClientID != "" {
		return g.Config.Mqtt.ClientID
	}
	return "enomesh"
}

// Files is nil when storage was provided before Init.
func (g *Global) Files() *persist.Files { return g.files }

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

// Close releases resources in reverse order of Init. Repeated calls are no-op.
func (g *Global) Close() {
	g.closeOnce.Do(func() {
		g.Tele.Close()
		if g.files != nil {
			g.files.Close()
		}
		if g.mqttClient != nil {
			g.mqttClient.Close()
		}
	})
}
