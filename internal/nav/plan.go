package nav

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is the on-disk mission plan format read by arbctl.
//
//	name: orchard-survey
//	takeoff_altitude: 15
//	waypoints:
//	  - {lat: 28.4595, lon: 77.0266, altitude: 20}
//	  - {lat: 28.4598, lon: 77.0270}
type Plan struct {
	Name            string  `yaml:"name"             json:"name,omitempty"`
	TakeoffAltitude float64 `yaml:"takeoff_altitude" json:"takeoff_altitude"`
	Waypoints       []Input `yaml:"waypoints"        json:"waypoints"`
}

// ParsePlan decodes a YAML plan. It does not validate waypoints; pass them to
// ValidateAndMerge for that.
func ParsePlan(b []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(p.Waypoints) == 0 {
		return Plan{}, &ValidationError{Index: -1, Reason: "plan has no waypoints"}
	}
	return p, nil
}

func LoadPlan(path string) (Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(b)
}
