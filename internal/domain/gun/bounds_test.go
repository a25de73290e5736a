package gun

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/platform/errors"
)

func TestValidateBounds(t *testing.T) {
	cfg := DefaultGunConfig()

	cases := []struct {
		name string
		x, y int
		ok   bool
	}{
		{"centre", 0, 30, true},
		{"min corner inclusive", -45, 0, true},
		{"max corner inclusive", 45, 60, true},
		{"left of range", -46, 10, false},
		{"above range", 0, 61, false},
		{"below range", 0, -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Validate(tc.x, tc.y, cfg)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, Point{X: tc.x, Y: tc.y}, p)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
}

func TestValidateAppliesOffsetsOnce(t *testing.T) {
	cfg := DefaultGunConfig()
	cfg.HorizontalOffset = 5
	cfg.VerticalOffset = -3

	for _, req := range []Point{{0, 10}, {-50, 3}, {40, 63}} {
		p, err := Validate(req.X, req.Y, cfg)
		require.NoError(t, err)
		assert.Equal(t, Point{X: req.X + 5, Y: req.Y - 3}, p)
	}

	// 40+5 exceeds max_horizontal even though 40 alone does not.
	_, err := Validate(41, 10, cfg)
	var oob *OutOfBoundsError
	require.True(t, stderrors.As(err, &oob))
	assert.Equal(t, Point{X: 46, Y: 7}, oob.Adjusted)
}

func TestOutOfBoundsMessage(t *testing.T) {
	_, err := Validate(100, 100, DefaultGunConfig())
	require.Error(t, err)
	assert.Equal(t, "Fire command out of bounds. Horizontal: -45 to 45, Vertical: 0 to 60", err.Error())
}
