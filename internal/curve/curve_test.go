package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPNRoundTripLinear(t *testing.T) {
	rpn, err := Parse("2*x+1")
	require.NoError(t, err)
	assert.Equal(t, "x 2 * 1 +", rpn.String())

	y, err := rpn.Eval(3)
	require.NoError(t, err)
	assert.Equal(t, 7.0, y)
}

func TestRPNFunctionsAndParens(t *testing.T) {
	rpn, err := Parse("ln(x+1)")
	require.NoError(t, err)
	y, err := rpn.Eval(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, y, 1e-9)
}

func TestRPNRejectsMismatchedParens(t *testing.T) {
	_, err := Parse("(x+1")
	assert.Error(t, err)
	_, err = Parse("x+1)")
	assert.Error(t, err)
}

func TestRPNRejectsUnknownIdentifier(t *testing.T) {
	_, err := Parse("frobnicate(x)")
	assert.Error(t, err)
}

func TestRPNDivisionByZero(t *testing.T) {
	rpn, err := Parse("1/x")
	require.NoError(t, err)
	_, err = rpn.Eval(0)
	assert.Error(t, err)
}

func TestCurveEndpointsExact(t *testing.T) {
	c, err := New("x", 0, 100, -20, 19, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, -20, c.Map(0))
	assert.Equal(t, 19, c.Map(100))
}

func TestCurveMapClampedWithinRange(t *testing.T) {
	c, err := New("x^2", -10, 10, -17, 15, 0, 1)
	require.NoError(t, err)
	for i := -10; i <= 10; i++ {
		v := c.Map(i)
		assert.GreaterOrEqual(t, v, -17)
		assert.LessOrEqual(t, v, 15)
	}
	assert.Equal(t, -17, c.Map(-100))
	assert.Equal(t, 15, c.Map(100))
}

func TestCurveRejectsNonMonotone(t *testing.T) {
	_, err := New("sin(x)", 0, 100, -20, 19, 0, 6.29)
	assert.Error(t, err)
}
