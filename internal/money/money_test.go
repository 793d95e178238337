package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("180.00")
	require.NoError(t, err)
	assert.Equal(t, Amount(18000), a)

	a, err = Parse(" 120 ")
	require.NoError(t, err)
	assert.Equal(t, Amount(12000), a)

	_, err = Parse("1.005")
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLineTotalsHaveNoDrift(t *testing.T) {
	price := MustParse("0.10")
	var total Amount
	for i := 0; i < 1000; i++ {
		total = total.Add(price.Mul(1))
	}
	assert.Equal(t, "100.00", total.String())
	assert.Equal(t, MustParse("480.00"), Sum(MustParse("180.00").Mul(2), MustParse("120.00").Mul(1)))
}

func TestApplyBasisPoints(t *testing.T) {
	assert.Equal(t, Amount(0), MustParse("100.00").ApplyBasisPoints(0))
	assert.Equal(t, MustParse("16.00"), MustParse("100.00").ApplyBasisPoints(1600))
	// 0.05 * 16% = 0.008 -> rounds to 0.01
	assert.Equal(t, Amount(1), Amount(5).ApplyBasisPoints(1600))
}

func TestWholeUnitsCeil(t *testing.T) {
	assert.Equal(t, int64(480), MustParse("480.00").WholeUnitsCeil())
	assert.Equal(t, int64(100), MustParse("99.10").WholeUnitsCeil())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{Total: MustParse("480.00")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"480.00"}`, string(b))

	var in struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.50","b":7}`), &in))
	assert.Equal(t, Amount(1250), in.A)
	assert.Equal(t, Amount(700), in.B)
}

func TestScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan(int64(48000)))
	assert.Equal(t, "480.00", a.String())
	require.NoError(t, a.Scan([]byte("125")))
	assert.Equal(t, Amount(125), a)
	assert.Error(t, a.Scan(1.5))
}
