package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

// Replay is a Source that plays back a line-oriented script. It lets the
// whole pipeline run without access to input devices.
//
// Script syntax, one directive per line ('#' starts a comment):
//
//	enum   <handle>:<keyboard|mouse|other> ...
//	add    <handle> <keyboard|mouse|other>
//	remove <handle>
//	key    <handle> <vkey> [up|repeat]
//	mouse  <handle> <dx> <dy> [buttons]
//	other  <handle>
//	sleep  <duration>
//
// Handles use the device id form ("0xAB12"); vkey and buttons accept
// decimal or 0x-prefixed hex.
type Replay struct {
	name     string
	steps    []Step
	interval time.Duration
}

// Step is one parsed script directive.
type Step struct {
	Line  int
	Op    string
	delay time.Duration
	apply func(Sink)
}

// NewReplay parses a script. interval is inserted after every record.
func NewReplay(name string, r io.Reader, interval time.Duration) (*Replay, error) {
	steps, err := ParseScript(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Replay{name: name, steps: steps, interval: interval}, nil
}

// OpenReplay parses the script at path.
func OpenReplay(path string, interval time.Duration) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()
	return NewReplay(path, f, interval)
}

// Name implements Source.
func (r *Replay) Name() string {
	return "replay:" + r.name
}

// Steps returns the number of parsed directives.
func (r *Replay) Steps() int {
	return len(r.steps)
}

// Run implements Source. It returns nil once the script is exhausted.
func (r *Replay) Run(ctx context.Context, sink Sink) error {
	for _, st := range r.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if st.delay > 0 {
			if err := sleep(ctx, st.delay); err != nil {
				return err
			}
			continue
		}

		st.apply(sink)

		if r.interval > 0 && isRecordOp(st.Op) {
			if err := sleep(ctx, r.interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func isRecordOp(op string) bool {
	return op == "key" || op == "mouse" || op == "other"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseScript parses a replay script.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		st, err := parseStep(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		st.Line = lineNo
		st.Op = fields[0]
		steps = append(steps, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

func parseStep(f []string) (Step, error) {
	op, args := f[0], f[1:]

	switch op {
	case "enum":
		entries := make([]device.Entry, 0, len(args))
		for _, a := range args {
			hs, cs, ok := strings.Cut(a, ":")
			if !ok {
				return Step{}, fmt.Errorf("enum entry %q: want <handle>:<class>", a)
			}
			h, err := input.ParseHandle(hs)
			if err != nil {
				return Step{}, err
			}
			class, err := parseClass(cs)
			if err != nil {
				return Step{}, err
			}
			entries = append(entries, device.Entry{Handle: h, Type: class.DeviceType()})
		}
		return Step{apply: func(s Sink) { s.Enumerated(entries) }}, nil

	case "add":
		if len(args) != 2 {
			return Step{}, fmt.Errorf("add: want <handle> <class>")
		}
		h, err := input.ParseHandle(args[0])
		if err != nil {
			return Step{}, err
		}
		class, err := parseClass(args[1])
		if err != nil {
			return Step{}, err
		}
		return Step{apply: func(s Sink) { s.Arrived(h, class) }}, nil

	case "remove":
		if len(args) != 1 {
			return Step{}, fmt.Errorf("remove: want <handle>")
		}
		h, err := input.ParseHandle(args[0])
		if err != nil {
			return Step{}, err
		}
		return Step{apply: func(s Sink) { s.Removed(h) }}, nil

	case "key":
		if len(args) < 2 || len(args) > 3 {
			return Step{}, fmt.Errorf("key: want <handle> <vkey> [up|repeat]")
		}
		h, err := input.ParseHandle(args[0])
		if err != nil {
			return Step{}, err
		}
		vkey, err := parseInt(args[1])
		if err != nil {
			return Step{}, fmt.Errorf("key: vkey: %w", err)
		}
		raw := input.RawKeyboard{VKey: vkey}
		if len(args) == 3 {
			switch args[2] {
			case "up":
				raw.Break = true
			case "repeat":
				raw.Repeat = true
			default:
				return Step{}, fmt.Errorf("key: unknown modifier %q", args[2])
			}
		}
		rec := input.Record{Handle: h, Class: input.ClassKeyboard, Raw: raw}
		return Step{apply: func(s Sink) { s.Record(rec) }}, nil

	case "mouse":
		if len(args) < 3 || len(args) > 4 {
			return Step{}, fmt.Errorf("mouse: want <handle> <dx> <dy> [buttons]")
		}
		h, err := input.ParseHandle(args[0])
		if err != nil {
			return Step{}, err
		}
		var raw input.RawMouse
		if raw.DX, err = parseInt(args[1]); err != nil {
			return Step{}, fmt.Errorf("mouse: dx: %w", err)
		}
		if raw.DY, err = parseInt(args[2]); err != nil {
			return Step{}, fmt.Errorf("mouse: dy: %w", err)
		}
		if len(args) == 4 {
			if raw.Buttons, err = parseInt(args[3]); err != nil {
				return Step{}, fmt.Errorf("mouse: buttons: %w", err)
			}
		}
		rec := input.Record{Handle: h, Class: input.ClassMouse, Raw: raw}
		return Step{apply: func(s Sink) { s.Record(rec) }}, nil

	case "other":
		if len(args) != 1 {
			return Step{}, fmt.Errorf("other: want <handle>")
		}
		h, err := input.ParseHandle(args[0])
		if err != nil {
			return Step{}, err
		}
		rec := input.Record{Handle: h, Class: input.ClassOther}
		return Step{apply: func(s Sink) { s.Record(rec) }}, nil

	case "sleep":
		if len(args) != 1 {
			return Step{}, fmt.Errorf("sleep: want <duration>")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return Step{}, fmt.Errorf("sleep: %w", err)
		}
		if d <= 0 {
			return Step{}, fmt.Errorf("sleep: duration must be positive")
		}
		return Step{delay: d}, nil

	default:
		return Step{}, fmt.Errorf("unknown directive %q", op)
	}
}

func parseClass(s string) (input.Class, error) {
	switch strings.ToLower(s) {
	case "keyboard":
		return input.ClassKeyboard, nil
	case "mouse":
		return input.ClassMouse, nil
	case "other":
		return input.ClassOther, nil
	default:
		return input.ClassOther, fmt.Errorf("unknown class %q", s)
	}
}

func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	return int(v), err
}
