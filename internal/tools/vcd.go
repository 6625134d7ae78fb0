package tools

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// VCDSignal is one $var declaration.
type VCDSignal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Scope string `json:"scope"`
	Width int    `json:"width"`
}

// FullName is the dotted scope path plus the signal name.
func (s VCDSignal) FullName() string {
	if s.Scope == "" {
		return s.Name
	}
	return s.Scope + "." + s.Name
}

// ValueChange is a signal value at a simulation time.
type ValueChange struct {
	Time  uint64 `json:"time"`
	Value string `json:"value"`
}

// VCD is a parsed value change dump.
type VCD struct {
	Timescale string
	Signals   []VCDSignal
	// Changes is keyed by identifier code; aliased signals share one entry.
	Changes map[string][]ValueChange
	EndTime uint64
}

// Lookup finds signals by full dotted name or by bare name.
func (v *VCD) Lookup(name string) []VCDSignal {
	var out []VCDSignal
	for _, s := range v.Signals {
		if s.FullName() == name || s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// ParseVCD reads an IEEE 1364 value change dump.
func ParseVCD(r io.Reader) (*VCD, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	vcd := &VCD{Changes: make(map[string][]ValueChange)}
	var scopes []string
	var now uint64
	inDefs := true

	// until collects tokens up to the closing $end.
	until := func() ([]string, error) {
		var toks []string
		for sc.Scan() {
			tok := sc.Text()
			if tok == "$end" {
				return toks, nil
			}
			toks = append(toks, tok)
		}
		return toks, fmt.Errorf("vcd: unterminated section")
	}

	for sc.Scan() {
		tok := sc.Text()

		if inDefs {
			switch tok {
			case "$timescale":
				toks, err := until()
				if err != nil {
					return nil, err
				}
				vcd.Timescale = strings.Join(toks, "")
			case "$scope":
				toks, err := until()
				if err != nil {
					return nil, err
				}
				if len(toks) >= 2 {
					scopes = append(scopes, toks[1])
				}
			case "$upscope":
				if _, err := until(); err != nil {
					return nil, err
				}
				if len(scopes) > 0 {
					scopes = scopes[:len(scopes)-1]
				}
			case "$var":
				toks, err := until()
				if err != nil {
					return nil, err
				}
				if len(toks) < 4 {
					return nil, fmt.Errorf("vcd: malformed $var %v", toks)
				}
				width, _ := strconv.Atoi(toks[1])
				vcd.Signals = append(vcd.Signals, VCDSignal{
					ID:    toks[2],
					Name:  toks[3],
					Scope: strings.Join(scopes, "."),
					Width: width,
				})
			case "$enddefinitions":
				if _, err := until(); err != nil {
					return nil, err
				}
				inDefs = false
			default:
				if strings.HasPrefix(tok, "$") {
					if _, err := until(); err != nil {
						return nil, err
					}
				}
			}
			continue
		}

		switch {
		case tok == "$dumpvars" || tok == "$dumpall" || tok == "$dumpon" || tok == "$dumpoff" || tok == "$end":
		case tok == "$comment":
			if _, err := until(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(tok, "#"):
			t, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("vcd: bad timestamp %q", tok)
			}
			now = t
			vcd.EndTime = t
		case tok[0] == 'b' || tok[0] == 'B' || tok[0] == 'r' || tok[0] == 'R':
			if !sc.Scan() {
				return nil, fmt.Errorf("vcd: vector value %q without identifier", tok)
			}
			id := sc.Text()
			vcd.Changes[id] = append(vcd.Changes[id], ValueChange{Time: now, Value: tok[1:]})
		case strings.ContainsRune("01xXzZ", rune(tok[0])):
			if len(tok) < 2 {
				return nil, fmt.Errorf("vcd: scalar value %q without identifier", tok)
			}
			id := tok[1:]
			vcd.Changes[id] = append(vcd.Changes[id], ValueChange{Time: now, Value: strings.ToLower(tok[:1])})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vcd: %w", err)
	}
	return vcd, nil
}
