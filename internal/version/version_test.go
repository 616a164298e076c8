package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "0.0.1", want: Version{0, 0, 1}},
		{in: "v1.2.3", want: Version{1, 2, 3}},
		{in: " 10.20.30 ", want: Version{10, 20, 30}},
		{in: "1.2", wantErr: true},
		{in: "1.2.3-rc1", wantErr: true},
		{in: "a.b.c", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestBumpRules(t *testing.T) {
	v := Version{Major: 1, Minor: 4, Patch: 7}

	assert.Equal(t, Version{1, 4, 8}, v.BumpPatch())
	assert.Equal(t, Version{1, 5, 0}, v.BumpMinor())
	assert.Equal(t, Version{2, 4, 7}, v.BumpMajor(false))
	assert.Equal(t, Version{2, 0, 0}, v.BumpMajor(true))

	_, err := v.Next("micro", false)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestBumpsAreMonotonic(t *testing.T) {
	v := Initial
	for _, c := range []Component{ComponentPatch, ComponentMinor, ComponentPatch, ComponentMajor, ComponentMinor, ComponentPatch} {
		for _, reset := range []bool{false, true} {
			next, err := v.Next(c, reset)
			require.NoError(t, err)
			assert.Equal(t, 1, Compare(next, v), "%s -> %s via %s", v, next, c)
		}
		v, _ = v.Next(c, false)
	}
}

func TestCheckSet(t *testing.T) {
	cur := Version{1, 2, 3}

	assert.NoError(t, CheckSet(cur, Version{1, 2, 3}, false))
	assert.NoError(t, CheckSet(cur, Version{1, 3, 0}, false))

	err := CheckSet(cur, Version{1, 2, 2}, false)
	assert.ErrorIs(t, err, types.ErrVersionRegression)

	assert.NoError(t, CheckSet(cur, Version{0, 9, 0}, true))
	assert.ErrorIs(t, CheckSet(cur, Version{-1, 0, 0}, true), types.ErrValidation)
}

func TestValidateBumpRequest(t *testing.T) {
	assert.NoError(t, ValidateBumpRequest(ComponentPatch, ""))
	assert.ErrorIs(t, ValidateBumpRequest(ComponentMajor, "  "), types.ErrValidation)
	assert.NoError(t, ValidateBumpRequest(ComponentMajor, "public API freeze"))
	assert.ErrorIs(t, ValidateBumpRequest("huge", "x"), types.ErrValidation)
}
