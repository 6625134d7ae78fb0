package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	defaultVCDFile    = "dump.vcd"
	defaultMaxChanges = 20
	maxListedSignals  = 40
)

// SignalTrace is the structured data for one inspected signal.
type SignalTrace struct {
	Signal  string        `json:"signal"`
	Width   int           `json:"width"`
	Changes []ValueChange `json:"changes"`
	Total   int           `json:"total"`
}

// WaveformTool reports value changes from a VCD dump.
type WaveformTool struct {
	ws *Workspace
}

func NewWaveformTool(ws *Workspace) *WaveformTool { return &WaveformTool{ws: ws} }

func (t *WaveformTool) Name() string { return NameWaveform }

func (t *WaveformTool) Description() string {
	return "Inspect signal value changes in a VCD waveform produced by the testbench ($dumpfile)."
}

func (t *WaveformTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"vcd_file":    stringProp("VCD file in the workspace (default dump.vcd)"),
		"signals":     fileListProp("Signal names, bare (count) or dotted (tb.dut.count)"),
		"max_changes": intProp("Maximum changes listed per signal (default 20)", 1),
	}, "signals")
}

func (t *WaveformTool) Invoke(_ context.Context, args map[string]any) (Output, error) {
	file := stringArg(args, "vcd_file")
	if strings.TrimSpace(file) == "" {
		file = defaultVCDFile
	}
	signals := stringSliceArg(args, "signals")
	if len(signals) == 0 {
		return Failed("Error: no signals given"), nil
	}
	limit := intArg(args, "max_changes", defaultMaxChanges)
	if limit <= 0 {
		limit = defaultMaxChanges
	}

	data, err := t.ws.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Failedf("Error: waveform file %s not found; make sure the testbench calls $dumpfile(\"%s\") and $dumpvars", file, file), nil
		}
		return Failedf("Error reading %s: %v", file, err), nil
	}
	vcd, err := ParseVCD(bytes.NewReader(data))
	if err != nil {
		return Failedf("Error parsing %s: %v", file, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Waveform %s (timescale %s, end time %d)\n", file, orDash(vcd.Timescale), vcd.EndTime)

	var traces []SignalTrace
	var missing []string
	for _, name := range signals {
		matches := vcd.Lookup(name)
		if len(matches) == 0 {
			missing = append(missing, name)
			continue
		}
		for _, sig := range matches {
			changes := vcd.Changes[sig.ID]
			trace := SignalTrace{Signal: sig.FullName(), Width: sig.Width, Total: len(changes)}
			if len(changes) > limit {
				trace.Changes = changes[:limit]
			} else {
				trace.Changes = changes
			}
			traces = append(traces, trace)

			fmt.Fprintf(&b, "%s [%d]:", trace.Signal, trace.Width)
			for _, c := range trace.Changes {
				fmt.Fprintf(&b, " t=%d:%s", c.Time, c.Value)
			}
			if trace.Total > len(trace.Changes) {
				fmt.Fprintf(&b, " ... (%d more)", trace.Total-len(trace.Changes))
			}
			b.WriteString("\n")
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(&b, "Signals not found: %s\n", strings.Join(missing, ", "))
		fmt.Fprintf(&b, "Available: %s\n", strings.Join(availableSignals(vcd), ", "))
	}
	if len(traces) == 0 {
		return Failed(strings.TrimSpace(b.String())), nil
	}
	return Succeeded(strings.TrimSpace(b.String()), traces), nil
}

func availableSignals(vcd *VCD) []string {
	names := make([]string, 0, len(vcd.Signals))
	for _, s := range vcd.Signals {
		names = append(names, s.FullName())
	}
	sort.Strings(names)
	if len(names) > maxListedSignals {
		names = append(names[:maxListedSignals], "...")
	}
	return names
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
