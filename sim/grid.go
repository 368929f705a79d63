package sim

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PeripheralKind tags the fixed-function device bound to an electrode.
type PeripheralKind string

const (
	PeripheralHeater PeripheralKind = "Heater"
	PeripheralInput  PeripheralKind = "Input"
	PeripheralOutput PeripheralKind = "Output"
)

var validPeripheralKinds = map[PeripheralKind]bool{
	PeripheralHeater: true,
	PeripheralInput:  true,
	PeripheralOutput: true,
}

// Peripheral is a heater, input port or output port attached to one electrode.
// SPIChannel is only meaningful for heaters; Name only for ports.
type Peripheral struct {
	Kind       PeripheralKind `json:"type" yaml:"type"`
	PWMChannel int            `json:"pwm_channel" yaml:"pwm_channel"`
	SPIChannel int            `json:"spi_channel,omitempty" yaml:"spi_channel,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
}

// Matches reports whether a real peripheral p satisfies the placeholder want.
// Kinds must agree; ports also compare names when the placeholder names one.
func (p Peripheral) Matches(want Peripheral) bool {
	if p.Kind != want.Kind {
		return false
	}
	switch want.Kind {
	case PeripheralInput, PeripheralOutput:
		return want.Name == "" || want.Name == p.Name
	default:
		return true
	}
}

func (p Peripheral) String() string {
	switch p.Kind {
	case PeripheralHeater:
		return fmt.Sprintf("Heater{pwm=%d spi=%d}", p.PWMChannel, p.SPIChannel)
	default:
		return fmt.Sprintf("%s{pwm=%d name=%q}", p.Kind, p.PWMChannel, p.Name)
	}
}

// Electrode is one addressable cell.
type Electrode struct {
	Pin        int
	Peripheral *Peripheral
}

// Grid is the immutable electrode topology for a session.
// Holes (cells without an electrode) are nil.
type Grid struct {
	cells   [][]*Electrode
	numPins int
}

// Rectangle builds an h x w grid with no peripherals and pins numbered row-major.
func Rectangle(h, w int) *Grid {
	g := &Grid{cells: make([][]*Electrode, h)}
	for y := 0; y < h; y++ {
		g.cells[y] = make([]*Electrode, w)
		for x := 0; x < w; x++ {
			g.cells[y][x] = &Electrode{Pin: g.numPins}
			g.numPins++
		}
	}
	return g
}

// Rows returns the grid height.
func (g *Grid) Rows() int { return len(g.cells) }

// Cols returns the grid width.
func (g *Grid) Cols() int {
	if len(g.cells) == 0 {
		return 0
	}
	return len(g.cells[0])
}

// NumPins is the length of an activation frame for this grid.
func (g *Grid) NumPins() int { return g.numPins }

// Cell returns the electrode at loc, or nil when loc is out of bounds or a hole.
func (g *Grid) Cell(loc Location) *Electrode {
	if loc.Y < 0 || loc.Y >= len(g.cells) {
		return nil
	}
	row := g.cells[loc.Y]
	if loc.X < 0 || loc.X >= len(row) {
		return nil
	}
	return row[loc.X]
}

// Locations lists every electrode location row-major.
func (g *Grid) Locations() []Location {
	var out []Location
	for y, row := range g.cells {
		for x, e := range row {
			if e != nil {
				out = append(out, Location{Y: y, X: x})
			}
		}
	}
	return out
}

// Peripherals maps every peripheral-bearing location to its peripheral.
func (g *Grid) Peripherals() map[Location]Peripheral {
	out := make(map[Location]Peripheral)
	for _, loc := range g.Locations() {
		if p := g.Cell(loc).Peripheral; p != nil {
			out[loc] = *p
		}
	}
	return out
}

// setPeripheral attaches p to loc. Only used while building a grid or a request shape.
func (g *Grid) setPeripheral(loc Location, p Peripheral) {
	g.Cell(loc).Peripheral = &p
}

// boardFile is the on-disk board description.
// JSON documents decode too since JSON is a YAML subset.
type boardFile struct {
	Board       [][]string            `yaml:"board"`
	Peripherals map[string]Peripheral `yaml:"peripherals"`
}

// FromReader parses a board description.
//
// Cell labels: " " or "" is a hole, an integer is an explicit pin number, anything else
// gets the next free pin in row-major order. Peripheral keys are "(y, x)" strings.
func FromReader(r io.Reader) (*Grid, error) {
	var bf boardFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&bf); err != nil {
		return nil, &ParseError{Msg: err.Error()}
	}
	if len(bf.Board) == 0 {
		return nil, &ParseError{Field: "board", Msg: "board has no rows"}
	}

	width := len(bf.Board[0])
	explicit := make(map[int]Location)
	for y, row := range bf.Board {
		if len(row) != width {
			return nil, &ParseError{Field: "board", Msg: fmt.Sprintf("row %d has %d cells, expected %d", y, len(row), width)}
		}
		for x, label := range row {
			pin, err := strconv.Atoi(strings.TrimSpace(label))
			if err != nil {
				continue
			}
			if pin < 0 {
				return nil, &ParseError{Field: "board", Msg: fmt.Sprintf("negative pin %d at (%d, %d)", pin, y, x)}
			}
			if prev, dup := explicit[pin]; dup {
				return nil, &ParseError{Field: "board", Msg: fmt.Sprintf("pin %d used at %v and (%d, %d)", pin, prev, y, x)}
			}
			explicit[pin] = Location{Y: y, X: x}
		}
	}

	g := &Grid{cells: make([][]*Electrode, len(bf.Board))}
	next := 0
	nextFree := func() int {
		for {
			if _, taken := explicit[next]; !taken {
				next++
				return next - 1
			}
			next++
		}
	}
	for y, row := range bf.Board {
		g.cells[y] = make([]*Electrode, width)
		for x, label := range row {
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			pin, err := strconv.Atoi(label)
			if err != nil {
				pin = nextFree()
			}
			g.cells[y][x] = &Electrode{Pin: pin}
			if pin+1 > g.numPins {
				g.numPins = pin + 1
			}
		}
	}

	keys := make([]string, 0, len(bf.Peripherals))
	for k := range bf.Peripherals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p := bf.Peripherals[key]
		loc, err := parseLocationKey(key)
		if err != nil {
			return nil, &ParseError{Field: "peripherals", Msg: err.Error()}
		}
		if !validPeripheralKinds[p.Kind] {
			return nil, &ParseError{Field: "peripherals", Msg: fmt.Sprintf("unknown peripheral type %q at %v; valid: Heater, Input, Output", p.Kind, loc)}
		}
		if g.Cell(loc) == nil {
			return nil, &ParseError{Field: "peripherals", Msg: fmt.Sprintf("peripheral at %v has no electrode", loc)}
		}
		g.setPeripheral(loc, p)
	}
	return g, nil
}

// parseLocationKey parses "(y, x)".
func parseLocationKey(key string) (Location, error) {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, "(") || !strings.HasSuffix(trimmed, ")") {
		return Location{}, fmt.Errorf("bad location key %q, expected \"(y, x)\"", key)
	}
	parts := strings.Split(trimmed[1:len(trimmed)-1], ",")
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("bad location key %q, expected \"(y, x)\"", key)
	}
	y, errY := strconv.Atoi(strings.TrimSpace(parts[0]))
	x, errX := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errY != nil || errX != nil {
		return Location{}, fmt.Errorf("bad location key %q, expected integers", key)
	}
	return Location{Y: y, X: x}, nil
}
