package gun

import (
	"fmt"

	"nerfbot-server-go/internal/platform/errors"
)

// Point is an offset-adjusted aim point in device coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// OutOfBoundsError reports an aim point outside the configured limits.
type OutOfBoundsError struct {
	Requested Point
	Adjusted  Point
	Config    GunConfig
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("Fire command out of bounds. Horizontal: %d to %d, Vertical: %d to %d",
		e.Config.MinHorizontal, e.Config.MaxHorizontal, e.Config.MinVertical, e.Config.MaxVertical)
}

func (e *OutOfBoundsError) Unwrap() error {
	return errors.New(errors.KindValidation, "gun.bounds", "aim point out of bounds")
}

// Validate applies the calibration offsets to (x, y) and checks the result
// against the inclusive bounds of cfg.
func Validate(x, y int, cfg GunConfig) (Point, error) {
	p := Point{X: x + cfg.HorizontalOffset, Y: y + cfg.VerticalOffset}
	if p.X < cfg.MinHorizontal || p.X > cfg.MaxHorizontal ||
		p.Y < cfg.MinVertical || p.Y > cfg.MaxVertical {
		return Point{}, &OutOfBoundsError{Requested: Point{X: x, Y: y}, Adjusted: p, Config: cfg}
	}
	return p, nil
}
