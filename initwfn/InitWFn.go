// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be JSON or YAML serialized into configuraiton files.
package initwfn

import (
	"encoding/json"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
	Gaussian Type = "Gaussian"
	Uniform  Type = "Uniform"
)

// configTypes maps each Type to its concrete Config type
var configTypes = map[string]reflect.Type{
	string(GlorotU):  reflect.TypeOf(GlorotUConfig{}),
	string(GlorotN):  reflect.TypeOf(GlorotNConfig{}),
	string(HeU):      reflect.TypeOf(HeUConfig{}),
	string(HeN):      reflect.TypeOf(HeNConfig{}),
	string(Zeroes):   reflect.TypeOf(ZeroesConfig{}),
	string(Ones):     reflect.TypeOf(OnesConfig{}),
	string(Constant): reflect.TypeOf(ConstantConfig{}),
	string(Gaussian): reflect.TypeOf(GaussianConfig{}),
	string(Uniform):  reflect.TypeOf(UniformConfig{}),
}

// InitWFn wraps Gorgonia InitWFn so that they can be JSON marshalled and
// unmarshalled. In JSON, an InitWFn is described as
//
//	{"Type": "GlorotU", "Config": {"Gain": 1.0}}
type InitWFn struct {
	initWFn G.InitWFn
	Type
	Config
}

// newInitWFn returns a new InitWFn, or an error if c is invalid
func newInitWFn(c Config) (*InitWFn, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new%v: %w", c.Type(), err)
	}
	return &InitWFn{initWFn: c.Create(), Type: c.Type(), Config: c}, nil
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.initWFn
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(data, "Type", "Config",
		configTypes)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("unmarshalJSON: invalid %v config: %w", typeName,
			err)
	}

	i.Type = typeName
	i.Config = config
	i.initWFn = i.Config.Create()

	return nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. The YAML
// layout is the same as the JSON layout.
func (i *InitWFn) UnmarshalYAML(value *yaml.Node) error {
	m := map[string]interface{}{}
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}
	return i.UnmarshalJSON(data)
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
		return nil, "", fmt.Errorf("unknown InitWFn type %q", typeName)
	}
	value := reflect.New(ty).Interface()

	if m[valueJsonField] != nil {
		valueBytes, err := json.Marshal(m[valueJsonField])
		if err != nil {
			return nil, "", err
		}

		if err = json.Unmarshal(valueBytes, value); err != nil {
			return nil, "", err
		}
	}
	concreteValue := reflect.ValueOf(value).Elem().Interface().(Config)

	return concreteValue, Type(typeName), nil
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type

	// Validate returns an error if the Config describes no valid
	// InitWFn
	Validate() error
}
