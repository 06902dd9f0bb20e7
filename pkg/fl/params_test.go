package fl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/pkg/fl"
)

func TestSignature(t *testing.T) {
	t.Parallel()

	pv := fl.ParameterVector{
		{Shape: []int{14, 32}, Data: make([]float64, 14*32)},
		{Shape: []int{32}, Data: make([]float64, 32)},
		{Shape: []int{32, 1}, Data: make([]float64, 32)},
		{Shape: []int{1}, Data: make([]float64, 1)},
	}

	assert.Equal(t, "14x32,32,32x1,1", pv.Signature())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		pv      fl.ParameterVector
		wantErr bool
	}{
		{
			name: "consistent",
			pv: fl.ParameterVector{
				{Shape: []int{2, 3}, Data: make([]float64, 6)},
			},
		},
		{
			name: "buffer too short",
			pv: fl.ParameterVector{
				{Shape: []int{2, 3}, Data: make([]float64, 5)},
			},
			wantErr: true,
		},
		{
			name: "buffer too long",
			pv: fl.ParameterVector{
				{Shape: []int{2}, Data: make([]float64, 3)},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.pv.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, fl.ErrShapeMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchesSignature(t *testing.T) {
	t.Parallel()

	a := fl.ParameterVector{
		{Shape: []int{4, 2}, Data: make([]float64, 8)},
		{Shape: []int{2}, Data: make([]float64, 2)},
	}
	b := a.Clone()
	assert.True(t, a.MatchesSignature(b))

	c := fl.ParameterVector{
		{Shape: []int{4, 3}, Data: make([]float64, 12)},
		{Shape: []int{2}, Data: make([]float64, 2)},
	}
	assert.False(t, a.MatchesSignature(c))

	d := fl.ParameterVector{
		{Shape: []int{4, 2}, Data: make([]float64, 8)},
	}
	assert.False(t, a.MatchesSignature(d))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	pv := fl.ParameterVector{
		{Shape: []int{2}, Data: []float64{1, 2}},
	}
	c := pv.Clone()
	c[0].Data[0] = 99

	require.Equal(t, 1.0, pv[0].Data[0])
}
