package console

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/internal/bridge"
	"github.com/temoto/enomesh/internal/ptm"
	"github.com/temoto/enomesh/internal/secmat"
)

const usage = `syntax: one command per line
(local)
- 0..4     local button press, acknowledged on/off toggle
- list     print enrolled devices
- persist  store device table now, retry after failure
- checkpoint  store advanced counters

(bench)
- frame ADDR HEX                 inject raw advertisement payload
- commission ADDR KEY [SEQ]      inject commissioning telegram
- press ADDR KEY SEQ BUTTON [up] inject signed data telegram, BUTTON=a0|a1|b0|b1
`

var buttonBits = map[string]byte{
	"a0": ptm.StatusA0,
	"a1": ptm.StatusA1,
	"b0": ptm.StatusB0,
	"b1": ptm.StatusB1,
}

// parseLine returns EventInvalid for empty line.
func parseLine(line string, list func()) (bridge.Event, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return bridge.Event{}, nil
	}
	cmd, args := strings.ToLower(words[0]), words[1:]
	switch cmd {
	case "0", "1", "2", "3", "4":
		return bridge.Event{Kind: bridge.EventPress, Source: "console"}, nil
	case "list":
		return bridge.Event{Kind: bridge.EventFunc, Func: list}, nil
	case "persist":
		return bridge.Event{Kind: bridge.EventPersist}, nil
	case "checkpoint":
		return bridge.Event{Kind: bridge.EventCheckpoint}, nil

	case "frame":
		if len(args) < 2 {
			return bridge.Event{}, errors.NotValidf("syntax: frame ADDR HEX")
		}
		addr, err := secmat.ParseAddr(args[0])
		if err != nil {
			return bridge.Event{}, err
		}
		payload, err := helpers.ParseHex(strings.Join(args[1:], ""))
		if err != nil {
			return bridge.Event{}, errors.NewNotValid(err, "frame payload")
		}
		return frameEvent(addr, payload), nil

	case "commission":
		if len(args) < 2 || len(args) > 3 {
			return bridge.Event{}, errors.NotValidf("syntax: commission ADDR KEY [SEQ]")
		}
		c := ptm.Commission{}
		var err error
		if c.Addr, err = secmat.ParseAddr(args[0]); err != nil {
			return bridge.Event{}, err
		}
		if c.Key, err = secmat.ParseKey(args[1]); err != nil {
			return bridge.Event{}, err
		}
		if len(args) == 3 {
			if c.Seq, err = parseSeq(args[2]); err != nil {
				return bridge.Event{}, err
			}
		}
		return frameEvent(c.Addr, ptm.BuildCommission(c)), nil

	case "press":
		if len(args) < 4 || len(args) > 5 {
			return bridge.Event{}, errors.NotValidf("syntax: press ADDR KEY SEQ BUTTON [up]")
		}
		addr, err := secmat.ParseAddr(args[0])
		if err != nil {
			return bridge.Event{}, err
		}
		key, err := secmat.ParseKey(args[1])
		if err != nil {
			return bridge.Event{}, err
		}
		seq, err := parseSeq(args[2])
		if err != nil {
			return bridge.Event{}, err
		}
		status, ok := buttonBits[strings.ToLower(args[3])]
		if !ok {
			return bridge.Event{}, errors.NotValidf("button=%s", args[3])
		}
		if len(args) == 5 {
			if args[4] != "up" {
				return bridge.Event{}, errors.NotValidf("press modifier=%s", args[4])
			}
		} else {
			status |= ptm.StatusAction
		}
		payload, err := ptm.BuildData(key, addr, seq, status, nil)
		if err != nil {
			return bridge.Event{}, err
		}
		return frameEvent(addr, payload), nil
	}
	return bridge.Event{}, errors.NotSupportedf("command=%s", cmd)
}

func frameEvent(addr secmat.Addr, payload []byte) bridge.Event {
	return bridge.Event{Kind: bridge.EventFrame, Frame: ptm.Frame{Addr: addr, Payload: payload}}
}

func parseSeq(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NewNotValid(err, "seq")
	}
	return uint32(x), nil
}
