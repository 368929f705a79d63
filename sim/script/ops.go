package script

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/manager"
)

// bindings maps script names to live droplet ids within one process.
type bindings map[string]sim.DropletID

func (b bindings) take(name string) (sim.DropletID, error) {
	id, ok := b[name]
	if !ok {
		return sim.DropletID{}, fmt.Errorf("droplet %q is not bound", name)
	}
	delete(b, name)
	return id, nil
}

func (b bindings) bind(name string, id sim.DropletID) {
	if name != "" {
		b[name] = id
	}
}

// op is a decoded step.
type op interface {
	uses() []string
	binds(as string) []string
	run(p *manager.Process, env bindings, as string) error
}

var validOps = map[string]func() op{
	"create":       func() op { return &createOp{} },
	"input":        func() op { return &inputOp{} },
	"output":       func() op { return &outputOp{} },
	"move":         func() op { return &moveOp{} },
	"mix":          func() op { return &pairOp{} },
	"combine_into": func() op { return &pairOp{into: true} },
	"agitate":      func() op { return &agitateOp{} },
	"split":        func() op { return &splitOp{} },
	"heat":         func() op { return &heatOp{} },
	"flush":        func() op { return &flushOp{} },
}

// compile decodes a step's parameters into its op, rejecting unknown keys.
func compile(step Step) (op, error) {
	ctor, ok := validOps[step.Op]
	if !ok {
		return nil, fmt.Errorf("unknown op %q; valid: create, input, output, move, mix, combine_into, agitate, split, heat, flush", step.Op)
	}
	o := ctor()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      o,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(step.Params); err != nil {
		return nil, fmt.Errorf("bad parameters: %w", err)
	}
	if v, ok := o.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func requireNames(names ...string) error {
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("droplet name required")
		}
	}
	return nil
}

func single(as string) []string {
	if as == "" {
		return nil
	}
	return []string{as}
}

type createOp struct {
	Location   *sim.Location `mapstructure:"location"`
	Volume     float64       `mapstructure:"volume"`
	Dimensions *sim.Location `mapstructure:"dimensions"`
}

func (o *createOp) uses() []string           { return nil }
func (o *createOp) binds(as string) []string { return single(as) }

func (o *createOp) run(p *manager.Process, env bindings, as string) error {
	id, err := p.Create(o.Location, o.Volume, o.Dimensions)
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

type inputOp struct {
	Substance  string        `mapstructure:"substance"`
	Volume     float64       `mapstructure:"volume"`
	Dimensions *sim.Location `mapstructure:"dimensions"`
}

func (o *inputOp) uses() []string           { return nil }
func (o *inputOp) binds(as string) []string { return single(as) }

func (o *inputOp) validate() error {
	if o.Substance == "" {
		return fmt.Errorf("substance required")
	}
	return nil
}

func (o *inputOp) run(p *manager.Process, env bindings, as string) error {
	id, err := p.Input(o.Substance, o.Volume, o.Dimensions)
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

type outputOp struct {
	Substance string `mapstructure:"substance"`
	Droplet   string `mapstructure:"droplet"`
}

func (o *outputOp) uses() []string        { return []string{o.Droplet} }
func (o *outputOp) binds(string) []string { return nil }
func (o *outputOp) validate() error       { return requireNames(o.Droplet) }

func (o *outputOp) run(p *manager.Process, env bindings, _ string) error {
	id, err := env.take(o.Droplet)
	if err != nil {
		return err
	}
	return p.Output(o.Substance, id)
}

type moveOp struct {
	Droplet  string       `mapstructure:"droplet"`
	Location sim.Location `mapstructure:"location"`
}

func (o *moveOp) uses() []string           { return []string{o.Droplet} }
func (o *moveOp) binds(as string) []string { return single(as) }
func (o *moveOp) validate() error          { return requireNames(o.Droplet) }

func (o *moveOp) run(p *manager.Process, env bindings, as string) error {
	in, err := env.take(o.Droplet)
	if err != nil {
		return err
	}
	id, err := p.Move(in, o.Location)
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

// pairOp is mix or combine_into.
type pairOp struct {
	A    string `mapstructure:"a"`
	B    string `mapstructure:"b"`
	into bool
}

func (o *pairOp) uses() []string           { return []string{o.A, o.B} }
func (o *pairOp) binds(as string) []string { return single(as) }

func (o *pairOp) validate() error {
	if err := requireNames(o.A, o.B); err != nil {
		return err
	}
	if o.A == o.B {
		return fmt.Errorf("cannot combine %q with itself", o.A)
	}
	return nil
}

func (o *pairOp) run(p *manager.Process, env bindings, as string) error {
	a, err := env.take(o.A)
	if err != nil {
		return err
	}
	b, err := env.take(o.B)
	if err != nil {
		return err
	}
	var id sim.DropletID
	if o.into {
		id, err = p.CombineInto(a, b)
	} else {
		id, err = p.Mix(a, b)
	}
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

type agitateOp struct {
	Droplet string `mapstructure:"droplet"`
	Loops   int    `mapstructure:"loops"`
}

func (o *agitateOp) uses() []string           { return []string{o.Droplet} }
func (o *agitateOp) binds(as string) []string { return single(as) }

func (o *agitateOp) validate() error {
	if o.Loops == 0 {
		o.Loops = 1
	}
	if o.Loops < 0 || o.Loops > sim.MaxAgitateLoops {
		return fmt.Errorf("loops must be in [1, %d], got %d", sim.MaxAgitateLoops, o.Loops)
	}
	return requireNames(o.Droplet)
}

func (o *agitateOp) run(p *manager.Process, env bindings, as string) error {
	in, err := env.take(o.Droplet)
	if err != nil {
		return err
	}
	id, err := p.Agitate(in, o.Loops)
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

type splitOp struct {
	Droplet string   `mapstructure:"droplet"`
	Into    []string `mapstructure:"into"`
}

func (o *splitOp) uses() []string { return []string{o.Droplet} }

func (o *splitOp) binds(string) []string {
	var out []string
	for _, n := range o.Into {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (o *splitOp) validate() error {
	if len(o.Into) != 0 && len(o.Into) != 2 {
		return fmt.Errorf("split into needs exactly two names, got %d", len(o.Into))
	}
	return requireNames(o.Droplet)
}

func (o *splitOp) run(p *manager.Process, env bindings, _ string) error {
	in, err := env.take(o.Droplet)
	if err != nil {
		return err
	}
	a, b, err := p.Split(in)
	if err != nil {
		return err
	}
	if len(o.Into) == 2 {
		env.bind(o.Into[0], a)
		env.bind(o.Into[1], b)
	}
	return nil
}

type heatOp struct {
	Droplet     string  `mapstructure:"droplet"`
	Temperature float64 `mapstructure:"temperature"`
	Seconds     float64 `mapstructure:"seconds"`
}

func (o *heatOp) uses() []string           { return []string{o.Droplet} }
func (o *heatOp) binds(as string) []string { return single(as) }

func (o *heatOp) validate() error {
	if o.Seconds < 0 {
		return fmt.Errorf("seconds must be non-negative, got %v", o.Seconds)
	}
	return requireNames(o.Droplet)
}

func (o *heatOp) run(p *manager.Process, env bindings, as string) error {
	in, err := env.take(o.Droplet)
	if err != nil {
		return err
	}
	id, err := p.Heat(in, o.Temperature, o.Seconds)
	if err != nil {
		return err
	}
	env.bind(as, id)
	return nil
}

type flushOp struct{}

func (o *flushOp) uses() []string        { return nil }
func (o *flushOp) binds(string) []string { return nil }

func (o *flushOp) run(p *manager.Process, _ bindings, _ string) error {
	_, err := p.Flush()
	return err
}
