package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/enomesh/cmd/enomesh/subcmd"
	"github.com/temoto/enomesh/internal/bridge"
	"github.com/temoto/enomesh/internal/state"
)

var Mod = subcmd.Mod{Name: "bridge", Usage: "run switch to mesh bridge", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()
	g.Log.Debugf("config=%+v", g.Config)

	rt, err := bridge.Start(ctx)
	if err != nil {
		return errors.Annotate(err, "bridge")
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigch
		g.Log.Infof("signal=%v stopping", s)
		g.Alive.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("bridge init complete")
	rt.Run(g.Alive.StopChan())
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return errors.Annotate(rt.Close(), "bridge close")
}
