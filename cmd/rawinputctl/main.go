// rawinputctl is a client for the rawinputd event stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"rawinputd/internal/config"
	"rawinputd/internal/input"
	"rawinputd/internal/streamclient"
)

var defaultAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(config.DefaultPort))

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "watch":
		os.Exit(cmdWatch(os.Args[2:]))
	case "count":
		os.Exit(cmdCount(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `rawinputctl - Client for the rawinputd event stream

Usage: rawinputctl <command> [options]

Commands:
  watch           Print incoming events
  count           Count events per device for a period
  help            Show this help message

Options:
  -addr <host:port>  Server address (default: `+defaultAddr+`)`)
}

// connect dials addr and closes the connection when ctx ends so that a
// blocked read returns.
func connect(ctx context.Context, addr string) (*streamclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c, err := streamclient.Dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return c, nil
}

func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "server address")
	raw := fs.Bool("raw", false, "print lines exactly as received")
	validate := fs.Bool("validate", false, "check every line against the wire schema")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Connecting to rawinputd at %s...\n", *addr)
	c, err := connect(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Make sure rawinputd is running.")
		return 1
	}
	defer c.Close()
	c.Validate = *validate

	fmt.Println("Connected! Waiting for input events...")
	fmt.Println("Press keys or move mice to see events.")
	fmt.Println("Press Ctrl+C to exit.")
	fmt.Println()

	for {
		ev, line, err := c.Next()
		if err != nil {
			if line != nil {
				fmt.Printf("Parse error: %v\n", err)
				fmt.Printf("Raw data: %s\n", line)
				continue
			}
			if ctx.Err() != nil {
				fmt.Println("\nDisconnected.")
				return 0
			}
			if errors.Is(err, io.EOF) {
				fmt.Println("Server disconnected")
				return 0
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

		if *raw {
			fmt.Printf("%s\n", line)
			continue
		}
		fmt.Println(formatEvent(ev))
	}
}

type deviceCount struct {
	id       string
	kind     string
	events   int
	first    uint64
	last     uint64
	distance int
}

func cmdCount(args []string) int {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "server address")
	duration := fs.Duration("duration", 10*time.Second, "how long to count (0 counts until interrupted)")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c, err := connect(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer c.Close()

	counts := make(map[string]*deviceCount)
	var malformed int
	for {
		ev, line, err := c.Next()
		if err != nil {
			if line != nil {
				malformed++
				continue
			}
			break
		}
		tally(counts, ev)
	}

	printCounts(os.Stdout, counts, malformed)
	return 0
}

func tally(counts map[string]*deviceCount, ev input.Event) {
	dc, ok := counts[ev.DeviceID]
	if !ok {
		dc = &deviceCount{id: ev.DeviceID, kind: ev.Type().String(), first: ev.Timestamp}
		counts[ev.DeviceID] = dc
	}
	dc.events++
	dc.last = ev.Timestamp
	if m, ok := ev.Payload.(input.MousePayload); ok {
		dc.distance += abs(m.DX) + abs(m.DY)
	}
}

func printCounts(w io.Writer, counts map[string]*deviceCount, malformed int) {
	ids := make([]string, 0, len(counts))
	total := 0
	for id, dc := range counts {
		ids = append(ids, id)
		total += dc.events
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tTYPE\tEVENTS\tSPAN(ms)\tMOTION")
	for _, id := range ids {
		dc := counts[id]
		motion := "-"
		if dc.kind == input.DeviceMouse.String() {
			motion = strconv.Itoa(dc.distance)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", dc.id, dc.kind, dc.events, dc.last-dc.first, motion)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d events from %d devices", total, len(counts))
	if malformed > 0 {
		fmt.Fprintf(w, ", %d malformed lines", malformed)
	}
	fmt.Fprintln(w)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
