// Package console runs the bridge with interactive input: local button
// keys, frame injection for bench tests, device list.
package console

import (
	"context"
	"strings"
	"sync"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/enomesh/cmd/enomesh/subcmd"
	"github.com/temoto/enomesh/helpers/cli"
	"github.com/temoto/enomesh/internal/bridge"
	"github.com/temoto/enomesh/internal/state"
)

var Mod = subcmd.Mod{Name: "console", Usage: "run bridge with interactive console", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	rt, err := bridge.Start(ctx)
	if err != nil {
		return errors.Annotate(err, "console")
	}
	done := make(chan struct{})
	go func() {
		rt.Run(g.Alive.StopChan())
		close(done)
	}()

	var stopOnce sync.Once
	var stopErr error
	stop := func() error {
		stopOnce.Do(func() {
			g.Alive.Stop()
			<-done
			stopErr = errors.Annotate(rt.Close(), "console close")
			g.Close()
		})
		return stopErr
	}

	g.Log.Infof(usage)
	cli.MainLoop("enomesh-console", newExecutor(ctx, rt.Bridge), newCompleter(), func() {
		if err := stop(); err != nil {
			g.Log.Error(err)
		}
	})
	return stop()
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "0", Description: "local button press"},
		{Text: "list", Description: "print enrolled devices"},
		{Text: "persist", Description: "store device table"},
		{Text: "checkpoint", Description: "store advanced counters"},
		{Text: "frame", Description: "ADDR HEX inject raw advertisement"},
		{Text: "commission", Description: "ADDR KEY [SEQ] inject commissioning telegram"},
		{Text: "press", Description: "ADDR KEY SEQ BUTTON [up] inject data telegram"},
		{Text: "help", Description: "show syntax"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, b *bridge.Bridge) func(string) {
	g := state.GetGlobal(ctx)
	list := func() {
		store := b.Store()
		g.Log.Infof("devices=%d/%d", store.Len(), store.Cap())
		for i, r := range store.Records() {
			g.Log.Infof("- index=%d %s", i, r)
		}
		if store.PersistPending() {
			g.Log.Infof("persist failed, use `persist` to try again")
		}
	}
	return func(line string) {
		if strings.TrimSpace(line) == "help" {
			g.Log.Infof(usage)
			return
		}
		e, err := parseLine(line, list)
		if err != nil {
			g.Log.Infof("console err=%v", err)
			return
		}
		if e.Kind == bridge.EventInvalid {
			return
		}
		b.Post(e)
	}
}
