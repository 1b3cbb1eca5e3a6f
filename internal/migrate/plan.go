package migrate

// Step is one scheduled Up or Down execution.
type Step struct {
	Version   int64     `json:"version"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Obsolete  bool      `json:"obsolete,omitempty"`

	descriptor Descriptor
}

func newStep(d Descriptor, dir Direction) Step {
	return Step{
		Version:    d.Version,
		Name:       d.DisplayName(),
		Direction:  dir,
		Obsolete:   d.Obsolete,
		descriptor: d,
	}
}

// Plan is the resolved delta between the current and the target version.
type Plan struct {
	Schema    string    `json:"schema,omitempty"`
	Current   int64     `json:"current"`
	Target    int64     `json:"target"`
	Direction Direction `json:"direction"`
	Steps     []Step    `json:"steps"`
}

func (p Plan) Empty() bool { return len(p.Steps) == 0 }
