package sim

import (
	"fmt"
	"time"
)

// Heat parks a one-column droplet over a heater and drives it at Finalize.
type Heat struct {
	Input       DropletID
	Output      DropletID
	Temperature float64
	Duration    time.Duration

	heater Peripheral
}

func NewHeat(in, out DropletID, temperature float64, duration time.Duration) *Heat {
	return &Heat{Input: in, Output: out, Temperature: temperature, Duration: duration}
}

func (h *Heat) command()                    {}
func (h *Heat) InputDroplets() []DropletID  { return []DropletID{h.Input} }
func (h *Heat) OutputDroplets() []DropletID { return []DropletID{h.Output} }
func (h *Heat) Bypass(*GridView) bool       { return false }
func (h *Heat) PreRun(*GridSubView)         {}
func (h *Heat) Abort(err error)             { logAbort(h, err) }

// heaterSpot is where the heater sits inside the request shape.
func heaterSpot(dims Location) Location {
	return Location{Y: dims.Y - 1}
}

func (h *Heat) Request(gv *GridView) (*CommandRequest, error) {
	d, err := lookup(gv, h.Input)
	if err != nil {
		return nil, err
	}
	if d.Dimensions.X != 1 {
		return nil, fmt.Errorf("%w: heating needs a droplet one column wide, %v is %v", ErrPlace, d.ID, d.Dimensions)
	}
	s := shape(d.Dimensions)
	s.setPeripheral(heaterSpot(d.Dimensions), Peripheral{Kind: PeripheralHeater})
	return &CommandRequest{Shape: s, InputLocations: []Location{{}}}, nil
}

func (h *Heat) Run(sv *GridSubView) error {
	d, ok := sv.Get(h.Input)
	if !ok {
		return fmt.Errorf("%w: %v", ErrDropletNotFound, h.Input)
	}
	if e := sv.Electrode(heaterSpot(d.Dimensions)); e != nil && e.Peripheral != nil {
		h.heater = *e.Peripheral
	}
	return reidentify(sv, h.Input, h.Output)
}

func (h *Heat) Finalize(*Snapshot) []Effect {
	return []Effect{{
		Kind:        EffectHeat,
		Peripheral:  h.heater,
		Temperature: h.Temperature,
		Duration:    h.Duration,
	}}
}

// Input dispenses a new droplet of Substance from a matching input port.
type Input struct {
	Substance  string
	Volume     float64
	Dimensions Location
	Output     DropletID

	port Peripheral
}

func NewInput(substance string, volume float64, dims Location, out DropletID) *Input {
	return &Input{Substance: substance, Volume: volume, Dimensions: dims, Output: out}
}

func (in *Input) command()                    {}
func (in *Input) InputDroplets() []DropletID  { return nil }
func (in *Input) OutputDroplets() []DropletID { return []DropletID{in.Output} }
func (in *Input) Bypass(*GridView) bool       { return false }
func (in *Input) PreRun(*GridSubView)         {}
func (in *Input) Abort(err error)             { logAbort(in, err) }

// inputPortSpot is the port column just right of the droplet, halfway down.
func inputPortSpot(dims Location) Location {
	return Location{Y: dims.Y / 2, X: dims.X}
}

func (in *Input) Request(gv *GridView) (*CommandRequest, error) {
	// The port column sits right of the droplet.
	if err := checkDimensions(gv, in.Dimensions, Location{X: 1}); err != nil {
		return nil, err
	}
	if err := checkVolume(in.Volume); err != nil {
		return nil, err
	}
	s := shape(in.Dimensions.Add(Location{X: 1}))
	s.setPeripheral(inputPortSpot(in.Dimensions), Peripheral{Kind: PeripheralInput, Name: in.Substance})
	return &CommandRequest{Shape: s}, nil
}

func (in *Input) Run(sv *GridSubView) error {
	if e := sv.Electrode(inputPortSpot(in.Dimensions)); e != nil && e.Peripheral != nil {
		in.port = *e.Peripheral
	}
	sv.Insert(NewDroplet(in.Output, in.Volume, Location{}, in.Dimensions))
	return nil
}

func (in *Input) Finalize(*Snapshot) []Effect {
	return []Effect{{Kind: EffectInput, Peripheral: in.port, Volume: in.Volume}}
}

// Output drains a droplet through a matching output port.
type Output struct {
	Substance string
	Input     DropletID

	port   Peripheral
	volume float64
}

func NewOutput(substance string, in DropletID) *Output {
	return &Output{Substance: substance, Input: in}
}

func (o *Output) command()                    {}
func (o *Output) InputDroplets() []DropletID  { return []DropletID{o.Input} }
func (o *Output) OutputDroplets() []DropletID { return nil }
func (o *Output) Bypass(*GridView) bool       { return false }
func (o *Output) PreRun(*GridSubView)         {}
func (o *Output) Abort(err error)             { logAbort(o, err) }

// outputPortSpot is on the droplet's left edge, halfway down.
func outputPortSpot(dims Location) Location {
	return Location{Y: dims.Y / 2}
}

func (o *Output) Request(gv *GridView) (*CommandRequest, error) {
	d, err := lookup(gv, o.Input)
	if err != nil {
		return nil, err
	}
	s := shape(d.Dimensions)
	s.setPeripheral(outputPortSpot(d.Dimensions), Peripheral{Kind: PeripheralOutput, Name: o.Substance})
	return &CommandRequest{Shape: s, InputLocations: []Location{{}}}, nil
}

func (o *Output) Run(sv *GridSubView) error {
	d, ok := sv.Remove(o.Input)
	if !ok {
		return sv.view.Err()
	}
	if e := sv.Electrode(outputPortSpot(d.Dimensions)); e != nil && e.Peripheral != nil {
		o.port = *e.Peripheral
	}
	o.volume = d.Volume
	return nil
}

func (o *Output) Finalize(*Snapshot) []Effect {
	return []Effect{{Kind: EffectOutput, Peripheral: o.port, Volume: o.volume}}
}
