package model

import "fmt"

// Logits holds the model output for one utterance as a row-major
// [Frames x Classes] matrix.
type Logits struct {
	Frames  int
	Classes int
	Data    []float32
}

// Validate checks that Data matches the declared dimensions
func (l Logits) Validate() error {
	if l.Frames < 0 || l.Classes <= 0 {
		return fmt.Errorf("invalid logits shape [%d x %d]", l.Frames, l.Classes)
	}
	if len(l.Data) != l.Frames*l.Classes {
		return fmt.Errorf("logits data has %d values, shape [%d x %d] needs %d",
			len(l.Data), l.Frames, l.Classes, l.Frames*l.Classes)
	}
	return nil
}

// ArgMax returns the highest scoring class of every frame. Ties go to the
// lower class id.
func (l Logits) ArgMax() []int {
	ids := make([]int, l.Frames)
	for f := 0; f < l.Frames; f++ {
		row := l.Data[f*l.Classes : (f+1)*l.Classes]
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		ids[f] = best
	}
	return ids
}
