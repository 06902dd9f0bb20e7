package fl

import (
	"fmt"
	"strings"
)

// Tensor is one layer's trainable weights: a flat float64 buffer plus the
// shape it folds into. Float64 end to end so repeated weighted sums across
// rounds stay reproducible.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}

	return n
}

func (t Tensor) Clone() Tensor {
	c := Tensor{
		Shape: make([]int, len(t.Shape)),
		Data:  make([]float64, len(t.Data)),
	}
	copy(c.Shape, t.Shape)
	copy(c.Data, t.Data)

	return c
}

// ParameterVector is the ordered sequence of weight tensors exchanged between
// the aggregator and participants. All vectors within one federation run must
// carry the same shape signature.
type ParameterVector []Tensor

func (pv ParameterVector) Clone() ParameterVector {
	c := make(ParameterVector, len(pv))
	for i := range pv {
		c[i] = pv[i].Clone()
	}

	return c
}

// Signature renders the ordered layer shapes, e.g. "14x32,32,32x1,1".
func (pv ParameterVector) Signature() string {
	parts := make([]string, len(pv))
	for i, t := range pv {
		dims := make([]string, len(t.Shape))
		for j, d := range t.Shape {
			dims[j] = fmt.Sprintf("%d", d)
		}
		parts[i] = strings.Join(dims, "x")
	}

	return strings.Join(parts, ",")
}

// Validate checks that every tensor's buffer matches its declared shape.
func (pv ParameterVector) Validate() error {
	for i, t := range pv {
		if len(t.Data) != t.Elems() {
			return fmt.Errorf("%w: tensor %d holds %d values for shape %v", ErrShapeMismatch, i, len(t.Data), t.Shape)
		}
	}

	return nil
}

// MatchesSignature reports whether two vectors can be substituted for one
// another within a run.
func (pv ParameterVector) MatchesSignature(other ParameterVector) bool {
	if len(pv) != len(other) {
		return false
	}
	for i := range pv {
		if len(pv[i].Shape) != len(other[i].Shape) {
			return false
		}
		for j := range pv[i].Shape {
			if pv[i].Shape[j] != other[i].Shape[j] {
				return false
			}
		}
	}

	return true
}
