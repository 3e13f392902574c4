// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON or YAML serialized into configuraiton files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// configTypes maps each Type to its concrete Config type
var configTypes = map[string]reflect.Type{
	string(Vanilla): reflect.TypeOf(VanillaConfig{}),
	string(Adam):    reflect.TypeOf(AdamConfig{}),
	string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
}

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled. A Solver is a description only: every call to Create
// returns a new Gorgonia Solver with its own optimizer state, so a
// single Solver can be used to optimize many networks independently.
//
// In JSON, a Solver is described as
//
//	{"Type": "Adam", "Config": {"StepSize": 3e-4, ...}}
type Solver struct {
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	return &Solver{Type: t, Config: c}, nil
}

// String implements the fmt.Stringer interface
func (s *Solver) String() string {
	return fmt.Sprintf("{%v Solver: %+v}", s.Type, s.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(data, "Type", "Config",
		configTypes)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	if !config.ValidType(typeName) {
		return fmt.Errorf("unmarshalJSON: invalid solver type %v for "+
			"configuration %T", typeName, config)
	}

	s.Type = typeName
	s.Config = config

	return nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. The YAML
// layout is the same as the JSON layout.
func (s *Solver) UnmarshalYAML(value *yaml.Node) error {
	m := map[string]interface{}{}
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}
	return s.UnmarshalJSON(data)
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("missing field %q", typeJsonField)
	}
	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unknown solver type %q", typeName)
	}
	value := reflect.New(ty).Interface()

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}
	concreteValue := reflect.ValueOf(value).Elem().Interface().(Config)

	return concreteValue, Type(typeName), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	// Create returns a new Gorgonia Solver described by the Config
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
