package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

const sampleVCD = `$date today $end
$version Icarus Verilog $end
$timescale 1ns $end
$scope module tb $end
$var wire 1 ! clk $end
$var reg 4 " count [3:0] $end
$scope module dut $end
$var wire 4 # q [3:0] $end
$upscope $end
$upscope $end
$enddefinitions $end
#0
$dumpvars
0!
b0000 "
b0000 #
$end
#5
1!
b0001 "
#10
0!
#15
1!
b0010 "
x#
`

func TestParseVCD(t *testing.T) {
	vcd, err := ParseVCD(strings.NewReader(sampleVCD))
	require.NoError(t, err)

	assert.Equal(t, "1ns", vcd.Timescale)
	assert.Equal(t, uint64(15), vcd.EndTime)
	require.Len(t, vcd.Signals, 3)
	assert.Equal(t, "tb.clk", vcd.Signals[0].FullName())
	assert.Equal(t, 4, vcd.Signals[1].Width)
	assert.Equal(t, "tb.dut.q", vcd.Signals[2].FullName())

	assert.Equal(t, []ValueChange{{0, "0"}, {5, "1"}, {10, "0"}, {15, "1"}}, vcd.Changes["!"])
	assert.Equal(t, []ValueChange{{0, "0000"}, {5, "0001"}, {15, "0010"}}, vcd.Changes[`"`])
	assert.Equal(t, []ValueChange{{0, "0000"}, {15, "x"}}, vcd.Changes["#"])

	assert.Len(t, vcd.Lookup("count"), 1)
	assert.Len(t, vcd.Lookup("tb.dut.q"), 1)
	assert.Empty(t, vcd.Lookup("missing"))
}

func TestParseVCD_Malformed(t *testing.T) {
	_, err := ParseVCD(strings.NewReader("$timescale 1ns"))
	assert.Error(t, err)

	_, err = ParseVCD(strings.NewReader("$enddefinitions $end\n#abc\n"))
	assert.Error(t, err)
}

func TestWaveformTool(t *testing.T) {
	ws := newTestWorkspace(t)
	writeWorkspaceFile(t, ws, "dump.vcd", sampleVCD)
	tool := NewWaveformTool(ws)

	out, err := tool.Invoke(context.Background(), map[string]any{"signals": []any{"count", "clk"}, "max_changes": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, out.Status)
	assert.Contains(t, out.Payload, "tb.count [4]: t=0:0000 t=5:0001 ... (1 more)")
	assert.Contains(t, out.Payload, "tb.clk [1]: t=0:0 t=5:1 ... (2 more)")

	traces, ok := out.Data.([]SignalTrace)
	require.True(t, ok)
	assert.Len(t, traces, 2)
}

func TestWaveformTool_UnknownSignalListsAvailable(t *testing.T) {
	ws := newTestWorkspace(t)
	writeWorkspaceFile(t, ws, "dump.vcd", sampleVCD)

	out, err := NewWaveformTool(ws).Invoke(context.Background(), map[string]any{"signals": "nope"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Contains(t, out.Payload, "Signals not found: nope")
	assert.Contains(t, out.Payload, "tb.dut.q")
}

func TestWaveformTool_MissingDump(t *testing.T) {
	out, err := NewWaveformTool(newTestWorkspace(t)).Invoke(context.Background(), map[string]any{"signals": "clk"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Contains(t, out.Payload, "$dumpfile")
}
