package agent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"
)

// Type represents a specific type of an agent Config.
// Config's with this type can create Agents of the corresponding type.
type Type string

// Registered types with the package. Once a Type has been registered
// with this map, a TypedConfig with that type can be decoded.
//
// No Type's are registered wtih this package upon initialization.
// Each separate package is in charge of registering its Type with
// the package separately to avoid circular imports.
var (
	registeredTypes   = make(map[Type]reflect.Type)
	registeredTypesMu sync.RWMutex
)

// Register registers an agent's Type with a concrete Config type
// so that upon deserialization of a TypedConfig, Configs of
// type agentType are deserialized into the concrete type of config.
func Register(agentType Type, config Config) {
	registeredTypesMu.Lock()
	defer registeredTypesMu.Unlock()

	registeredTypes[agentType] = reflect.TypeOf(config)
}

// registered returns the concrete Config type registered for t
func registered(t Type) (reflect.Type, bool) {
	registeredTypesMu.RLock()
	defer registeredTypesMu.RUnlock()

	ty, ok := registeredTypes[t]
	return ty, ok
}

// TypedConfig implements functionality for typing a Config. In this
// way, a Config can explicitly have its type stored so that when
// deserializing the Config, we can deserialize it into its concrete
// type without knowing beforehand or declaring beforehand a variable
// of its concrete type. In JSON, a TypedConfig is described as
//
//	{"Type": "SAC", "Config": {...}}
type TypedConfig struct {
	Type
	Config
}

// NewTypedConfig types the argument Config and returns it as a
// TypedConfig which explicitly holds its Type.
func NewTypedConfig(c Config) TypedConfig {
	return TypedConfig{Type: c.Type(), Config: c}
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (t *TypedConfig) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(data, "Type", "Config")
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	t.Type = typeName
	t.Config = config

	return nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. The YAML
// layout is the same as the JSON layout.
func (t *TypedConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type   Type      `yaml:"Type"`
		Config yaml.Node `yaml:"Config"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}

	ty, found := registered(raw.Type)
	if !found {
		return fmt.Errorf("unmarshalYAML: unregistered agent type %q",
			raw.Type)
	}
	config := reflect.New(ty)
	if err := raw.Config.Decode(config.Interface()); err != nil {
		return fmt.Errorf("unmarshalYAML: %w", err)
	}

	t.Type = raw.Type
	t.Config = config.Elem().Interface().(Config)
	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField,
	valueJsonField string) (Config, Type, error) {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	var typeName Type
	if err := json.Unmarshal(m[typeJsonField], &typeName); err != nil {
		return nil, "", fmt.Errorf("missing field %q: %w", typeJsonField, err)
	}

	ty, found := registered(typeName)
	if !found {
		return nil, "", fmt.Errorf("unregistered agent type %q", typeName)
	}
	value := reflect.New(ty)

	if err := json.Unmarshal(m[valueJsonField], value.Interface()); err != nil {
		return nil, "", err
	}
	concreteValue := value.Elem().Interface().(Config)

	return concreteValue, typeName, nil
}
