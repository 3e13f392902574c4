package checkpointer

import (
	"fmt"

	ts "github.com/samuelfneumann/gosac/timestep"
)

// nStep implements checkpointing every N environment steps
type nStep struct {
	interval int
	steps    int
	object   Serializable // Object to save

	// filename returns the string filename of the file to save the object
	// in.
	//
	// If each serialized object should be saved in a separate file with
	// each file having an incremented number as a suffix (e.g.
	// file1.bin, file2.bin, ..., fileK.bin), then simply use the
	// static function FilenameEnumerator, which will return a function
	// that will enumerate filenames.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n environment
// steps. Steps are counted across episodes, the first TimeStep of an
// episode is not counted.
func NewNStep(n int, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("newNStep: interval must be positive, "+
			"got %v", n)
	}
	if object == nil {
		return nil, fmt.Errorf("newNStep: nil object")
	}
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint checkpoints the Checkpointer's tracked object by calling
// its Save() method
func (n *nStep) Checkpoint(t ts.TimeStep) error {
	if t.First() {
		return nil
	}

	n.steps++
	if n.steps%n.interval == 0 {
		if err := n.object.Save(n.filename()); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}
