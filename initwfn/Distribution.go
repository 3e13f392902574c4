package initwfn

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// finite returns an error naming field if v is NaN or infinite
func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%v must be finite but got %v", field, v)
	}
	return nil
}

// GaussianConfig configures initialization with weights drawn from
// N(Mean, StdDev²)
type GaussianConfig struct {
	Mean   float64 `json:"Mean" yaml:"Mean"`
	StdDev float64 `json:"StdDev" yaml:"StdDev"`
}

// NewGaussian returns a new gaussian weight initializer
func NewGaussian(mean, stddev float64) (*InitWFn, error) {
	return newInitWFn(GaussianConfig{Mean: mean, StdDev: stddev})
}

// Type returns Gaussian
func (c GaussianConfig) Type() Type { return Gaussian }

// Validate returns an error unless the mean is finite and the standard
// deviation is finite and positive
func (c GaussianConfig) Validate() error {
	if err := finite("mean", c.Mean); err != nil {
		return err
	}
	if err := finite("standard deviation", c.StdDev); err != nil {
		return err
	}
	if c.StdDev <= 0 {
		return fmt.Errorf("standard deviation must be > 0 but got %v",
			c.StdDev)
	}
	return nil
}

// Create returns the Gorgonia InitWFn
func (c GaussianConfig) Create() G.InitWFn {
	return G.Gaussian(c.Mean, c.StdDev)
}

// UniformConfig configures initialization with weights drawn
// uniformly from [Low, High)
type UniformConfig struct {
	Low  float64 `json:"Low" yaml:"Low"`
	High float64 `json:"High" yaml:"High"`
}

// NewUniform returns a new uniform weight initializer
func NewUniform(low, high float64) (*InitWFn, error) {
	return newInitWFn(UniformConfig{Low: low, High: high})
}

// Type returns Uniform
func (c UniformConfig) Type() Type { return Uniform }

// Validate returns an error unless Low < High and both are finite
func (c UniformConfig) Validate() error {
	if err := finite("low", c.Low); err != nil {
		return err
	}
	if err := finite("high", c.High); err != nil {
		return err
	}
	if c.Low >= c.High {
		return fmt.Errorf("low (%v) must be < high (%v)", c.Low, c.High)
	}
	return nil
}

// Create returns the Gorgonia InitWFn
func (c UniformConfig) Create() G.InitWFn {
	return G.Uniform(c.Low, c.High)
}

// ZeroesConfig configures initialization of all weights to 0. Critics
// initialized this way predict 0 everywhere, which tests rely on.
type ZeroesConfig struct{}

// NewZeroes returns a new zeroes weight intializer
func NewZeroes() (*InitWFn, error) { return newInitWFn(ZeroesConfig{}) }

func (ZeroesConfig) Type() Type        { return Zeroes }
func (ZeroesConfig) Validate() error   { return nil }
func (ZeroesConfig) Create() G.InitWFn { return G.Zeroes() }

// OnesConfig configures initialization of all weights to 1
type OnesConfig struct{}

// NewOnes returns a new ones weight intializer
func NewOnes() (*InitWFn, error) { return newInitWFn(OnesConfig{}) }

func (OnesConfig) Type() Type        { return Ones }
func (OnesConfig) Validate() error   { return nil }
func (OnesConfig) Create() G.InitWFn { return G.Ones() }

// ConstantConfig configures initialization of all weights to Value
type ConstantConfig struct {
	Value float64 `json:"Value" yaml:"Value"`
}

// NewConstant returns a new weight intializer which sets all weights
// to value
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{Value: value})
}

func (c ConstantConfig) Type() Type        { return Constant }
func (c ConstantConfig) Validate() error   { return finite("value", c.Value) }
func (c ConstantConfig) Create() G.InitWFn { return G.ValuesOf(c.Value) }
