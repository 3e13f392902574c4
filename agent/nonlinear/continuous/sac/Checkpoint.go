package sac

import (
	"encoding/gob"
	"fmt"
	"os"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gosac/network"
)

// checkpoint holds the weights of every network of a SAC agent, keyed
// by the names returned by Networks
type checkpoint struct {
	Variant  Variant
	Weights  map[string][][]float64
	LogAlpha float64
}

// Save saves the weights of all networks and the temperature of the
// agent to filename using gob encoding
func (s *SAC) Save(filename string) error {
	c := checkpoint{
		Variant:  s.variant,
		Weights:  make(map[string][][]float64),
		LogAlpha: s.temperature.LogAlpha(),
	}
	for name, net := range s.Networks() {
		learnables := net.Learnables()
		weights := make([][]float64, len(learnables))
		for i, l := range learnables {
			weights[i] = append([]float64{}, l.Value().Data().([]float64)...)
		}
		c.Weights[name] = weights
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not create file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("save: could not encode checkpoint: %w", err)
	}
	return nil
}

// Load loads weights saved with Save into the agent. The checkpoint
// must have been saved by an agent with the same configuration.
func (s *SAC) Load(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: could not open file: %w", err)
	}
	defer file.Close()

	var c checkpoint
	if err := gob.NewDecoder(file).Decode(&c); err != nil {
		return fmt.Errorf("load: could not decode checkpoint: %w", err)
	}
	if c.Variant != s.variant {
		return fmt.Errorf("load: checkpoint variant %v does not match "+
			"agent variant %v", c.Variant, s.variant)
	}

	for name, net := range s.Networks() {
		weights, ok := c.Weights[name]
		if !ok {
			return fmt.Errorf("load: checkpoint missing network %v", name)
		}
		if err := setWeights(net, weights); err != nil {
			return fmt.Errorf("load: network %v: %w", name, err)
		}
	}

	logAlpha := tensor.New(
		tensor.WithBacking([]float64{c.LogAlpha}),
		tensor.WithShape(1),
	)
	if err := G.Let(s.temperature.logAlpha, logAlpha); err != nil {
		return fmt.Errorf("load: could not set temperature: %w", err)
	}

	if err := network.Set(s.samplePolicy.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := network.Set(s.behaviour.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// setWeights sets the learnables of net to weights
func setWeights(net network.NeuralNet, weights [][]float64) error {
	learnables := net.Learnables()
	if len(learnables) != len(weights) {
		return fmt.Errorf("invalid number of weights \n\twant(%v) "+
			"\n\thave(%v)", len(learnables), len(weights))
	}

	for i, l := range learnables {
		if size := l.Shape().TotalSize(); size != len(weights[i]) {
			return fmt.Errorf("invalid size for learnable %v \n\twant(%v) "+
				"\n\thave(%v)", l.Name(), size, len(weights[i]))
		}
		w := tensor.New(
			tensor.WithBacking(append([]float64{}, weights[i]...)),
			tensor.WithShape(l.Shape()...),
		)
		if err := G.Let(l, w); err != nil {
			return err
		}
	}
	return nil
}
