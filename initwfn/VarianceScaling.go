package initwfn

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// validGain returns an error if gain cannot scale the variance of a
// layer's weights
func validGain(gain float64) error {
	if gain <= 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return fmt.Errorf("gain must be finite and > 0 but got %v", gain)
	}
	return nil
}

// GlorotUConfig configures Glorot uniform initialization, which
// scales weights by the fan in and fan out of each layer
type GlorotUConfig struct {
	Gain float64 `json:"Gain" yaml:"Gain"`
}

// NewGlorotU returns a new Glorot uniform weight initializer
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotUConfig{Gain: gain})
}

func (c GlorotUConfig) Type() Type        { return GlorotU }
func (c GlorotUConfig) Validate() error   { return validGain(c.Gain) }
func (c GlorotUConfig) Create() G.InitWFn { return G.GlorotU(c.Gain) }

// GlorotNConfig configures Glorot normal initialization
type GlorotNConfig struct {
	Gain float64 `json:"Gain" yaml:"Gain"`
}

// NewGlorotN returns a new Glorot normal weight initializer
func NewGlorotN(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotNConfig{Gain: gain})
}

func (c GlorotNConfig) Type() Type        { return GlorotN }
func (c GlorotNConfig) Validate() error   { return validGain(c.Gain) }
func (c GlorotNConfig) Create() G.InitWFn { return G.GlorotN(c.Gain) }

// HeUConfig configures He uniform initialization, which scales
// weights by the fan in of each layer. It suits ReLU layers.
type HeUConfig struct {
	Gain float64 `json:"Gain" yaml:"Gain"`
}

// NewHeU returns a new He uniform weight initializer
func NewHeU(gain float64) (*InitWFn, error) {
	return newInitWFn(HeUConfig{Gain: gain})
}

func (c HeUConfig) Type() Type        { return HeU }
func (c HeUConfig) Validate() error   { return validGain(c.Gain) }
func (c HeUConfig) Create() G.InitWFn { return G.HeU(c.Gain) }

// HeNConfig configures He normal initialization
type HeNConfig struct {
	Gain float64 `json:"Gain" yaml:"Gain"`
}

// NewHeN returns a new He normal weight initializer
func NewHeN(gain float64) (*InitWFn, error) {
	return newInitWFn(HeNConfig{Gain: gain})
}

func (c HeNConfig) Type() Type        { return HeN }
func (c HeNConfig) Validate() error   { return validGain(c.Gain) }
func (c HeNConfig) Create() G.InitWFn { return G.HeN(c.Gain) }
