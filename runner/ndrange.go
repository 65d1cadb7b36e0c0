package runner

import (
	"encoding/json"
	"fmt"

	"github.com/notargets/cldrive/runner/failure"
)

// NDRange is a 3 dimensional execution size with components X, Y, Z
type NDRange struct {
	X, Y, Z int
}

// NewNDRange builds an NDRange from exactly three non-negative components
func NewNDRange(dims ...int) (NDRange, error) {
	if len(dims) != 3 {
		return NDRange{}, failure.New(failure.KindShape,
			"NDRange requires exactly 3 components, got %d", len(dims))
	}
	for i, d := range dims {
		if d < 0 {
			return NDRange{}, failure.New(failure.KindValueConstraint,
				"NDRange component %d is negative (%d)", i, d)
		}
	}
	return NDRange{X: dims[0], Y: dims[1], Z: dims[2]}, nil
}

// Product is the linear size x * y * z
func (r NDRange) Product() int {
	return r.X * r.Y * r.Z
}

// Equal compares component-wise
func (r NDRange) Equal(rhs NDRange) bool {
	return r.X == rhs.X && r.Y == rhs.Y && r.Z == rhs.Z
}

// Greater is true when r has the larger product and no smaller component
func (r NDRange) Greater(rhs NDRange) bool {
	return r.Product() > rhs.Product() &&
		r.X >= rhs.X && r.Y >= rhs.Y && r.Z >= rhs.Z
}

func (r NDRange) GreaterEqual(rhs NDRange) bool {
	return r.Equal(rhs) || r.Greater(rhs)
}

// Dims returns the components as a slice
func (r NDRange) Dims() []int {
	return []int{r.X, r.Y, r.Z}
}

func (r NDRange) String() string {
	return fmt.Sprintf("[%d, %d, %d]", r.X, r.Y, r.Z)
}

func (r NDRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Dims())
}

func (r *NDRange) UnmarshalJSON(data []byte) error {
	var dims []int
	if err := json.Unmarshal(data, &dims); err != nil {
		return err
	}
	parsed, err := NewNDRange(dims...)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
