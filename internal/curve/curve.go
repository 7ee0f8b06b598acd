package curve

import "fmt"

// minSampleSteps is the minimum number of sampling steps used to verify
// monotonicity over [cmin, cmax]; the step itself follows spec §3's
// "sampling at step 1/(imax-imin)".
const minSampleSteps = 2

// Curve is a precomputed integer lookup table realizing a symbolic,
// monotone response function f over [imin, imax] -> [omin, omax], per
// spec §3 "Response curve".
type Curve struct {
	IMin, IMax int
	OMin, OMax int
	CMin, CMax float64
	fn         *RPN
	table      []int
}

// New parses fnExpr, verifies it is monotone on [cmin, cmax], and builds
// the table. It returns an error (never a crash) for a non-monotone
// function, matching spec §7 item 2 ("non-monotone curve function" is a
// fatal configuration error at build time).
func New(fnExpr string, imin, imax int, omin, omax int, cmin, cmax float64) (*Curve, error) {
	if imax < imin {
		return nil, fmt.Errorf("curve: imax %d < imin %d", imax, imin)
	}
	rpn, err := Parse(fnExpr)
	if err != nil {
		return nil, err
	}

	c := &Curve{IMin: imin, IMax: imax, OMin: omin, OMax: omax, CMin: cmin, CMax: cmax, fn: rpn}

	if err := c.checkMonotone(); err != nil {
		return nil, err
	}
	if err := c.buildTable(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Curve) sampleStep() float64 {
	n := c.IMax - c.IMin
	if n <= 0 {
		return c.CMax - c.CMin
	}
	return 1.0 / float64(n)
}

// checkMonotone samples f across [cmin, cmax] at the configured step and
// rejects the curve if the sign of consecutive differences flips.
func (c *Curve) checkMonotone() error {
	step := c.sampleStep()
	span := c.CMax - c.CMin
	steps := int(1/step) + 1
	if steps < minSampleSteps {
		steps = minSampleSteps
	}

	var prev float64
	var prevSet bool
	var sign int
	for i := 0; i <= steps; i++ {
		x := c.CMin + span*float64(i)/float64(steps)
		y, err := c.fn.Eval(x)
		if err != nil {
			return fmt.Errorf("curve: domain error evaluating %q at x=%v: %w", c.fn.source, x, err)
		}
		if prevSet {
			d := y - prev
			s := 0
			switch {
			case d > 0:
				s = 1
			case d < 0:
				s = -1
			}
			if s != 0 {
				if sign == 0 {
					sign = s
				} else if s != sign {
					return fmt.Errorf("curve: %q is not monotone on [%v, %v]", c.fn.source, c.CMin, c.CMax)
				}
			}
		}
		prev, prevSet = y, true
	}
	return nil
}

// buildTable computes the imax-imin+1 entry table: each integer input i is
// linearly mapped into [cmin, cmax], evaluated, then linearly mapped into
// [omin, omax] and clamped; the endpoints are forced to exactly omin/omax
// per spec §3.
func (c *Curve) buildTable() error {
	n := c.IMax - c.IMin + 1
	table := make([]int, n)

	yMin, err := c.fn.Eval(c.CMin)
	if err != nil {
		return fmt.Errorf("curve: evaluating endpoint cmin: %w", err)
	}
	yMax, err := c.fn.Eval(c.CMax)
	if err != nil {
		return fmt.Errorf("curve: evaluating endpoint cmax: %w", err)
	}

	for idx := 0; idx < n; idx++ {
		i := c.IMin + idx
		var x float64
		if c.IMax == c.IMin {
			x = c.CMin
		} else {
			t := float64(i-c.IMin) / float64(c.IMax-c.IMin)
			x = c.CMin + t*(c.CMax-c.CMin)
		}
		y, err := c.fn.Eval(x)
		if err != nil {
			return fmt.Errorf("curve: evaluating at i=%d (x=%v): %w", i, x, err)
		}

		var out int
		if yMax == yMin {
			out = c.OMin
		} else {
			t := (y - yMin) / (yMax - yMin)
			out = c.OMin + int(round(t*float64(c.OMax-c.OMin)))
		}
		if out < c.OMin {
			out = c.OMin
		}
		if out > c.OMax {
			out = c.OMax
		}
		table[idx] = out
	}
	table[0] = c.OMin
	table[n-1] = c.OMax
	c.table = table
	return nil
}

func round(f float64) float64 {
	if f >= 0 {
		return float64(int(f + 0.5))
	}
	return float64(int(f - 0.5))
}

// Map looks up the clamped kernel value for logical input i, clamping i
// itself into [imin, imax] first.
func (c *Curve) Map(i int) int {
	if i < c.IMin {
		i = c.IMin
	}
	if i > c.IMax {
		i = c.IMax
	}
	return c.table[i-c.IMin]
}
