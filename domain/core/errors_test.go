package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDiscardable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"degenerate", NewDegenerateError("fewer samples than terms"), true},
		{"singular design", fmt.Errorf("fit: %w", ErrSingularDesign), true},
		{"failed fit", fmt.Errorf("%w: did not converge", ErrEstimationFailed), true},
		{"misaligned", NewMisalignedError("2012-03-01", "2012-03-02"), true},
		{"gap", fmt.Errorf("day 4: %w", ErrGap), true},
		{"shape", NewShapeError("quantile", 3, 4, 3, 5), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDiscardable(tt.err))
		})
	}
}

func TestIsAlignmentError(t *testing.T) {
	assert.True(t, IsAlignmentError(NewMisalignedError("a", "b")))
	assert.True(t, IsAlignmentError(ErrGap))
	assert.False(t, IsAlignmentError(ErrDegenerateSample))
}
