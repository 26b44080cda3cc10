package update

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
)

// Step is the list of ops one device applies
type Step struct {
	Device string `yaml:"device" json:"device"`
	Ops    []Op   `yaml:"ops" json:"ops"`
}

// Plan is a multi-device update: the master device and the ops for every participant.
// Steps are attached in order; a step for the master device writes through the master
// handle.
type Plan struct {
	Master    string `yaml:"master" json:"master"`
	LocalOnly bool   `yaml:"local_only,omitempty" json:"local_only,omitempty"`
	Steps     []Step `yaml:"steps" json:"steps"`
}

// Devices returns the distinct devices of the plan, master first.
func (p *Plan) Devices() []distxn.DeviceID {
	seen := map[distxn.DeviceID]bool{}
	ids := []distxn.DeviceID{distxn.DeviceID(p.Master)}
	seen[distxn.DeviceID(p.Master)] = true
	for _, s := range p.Steps {
		id := distxn.DeviceID(s.Device)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate normalizes device names and keys in place.
func (p *Plan) Validate() error {
	master, err := distxn.NewDeviceID(p.Master)
	if err != nil {
		return fmt.Errorf("master: %w", err)
	}
	p.Master = master.String()

	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		id, err := distxn.NewDeviceID(s.Device)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		s.Device = id.String()
		if len(s.Ops) == 0 {
			return fmt.Errorf("step %d (%s): no ops", i, s.Device)
		}
		for j := range s.Ops {
			op, err := s.Ops[j].Normalize()
			if err != nil {
				return fmt.Errorf("step %d (%s) op %d: %w", i, s.Device, j, err)
			}
			s.Ops[j] = op
		}
	}
	return nil
}

// DecodePlan reads a YAML plan and validates it
func DecodePlan(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// LoadPlan reads a YAML plan file
func LoadPlan(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()
	return DecodePlan(f)
}
