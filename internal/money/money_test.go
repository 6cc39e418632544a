package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test decimal string parsing at scale 2
func TestFromDecimalString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		scale     int32
		wantCents int64
		wantErr   bool
	}{
		{
			name:      "Whole amount",
			input:     "150",
			scale:     ScaleCents,
			wantCents: 15000,
		},
		{
			name:      "Two decimal places",
			input:     "150.00",
			scale:     ScaleCents,
			wantCents: 15000,
		},
		{
			name:      "Cents preserved",
			input:     "0.01",
			scale:     ScaleCents,
			wantCents: 1,
		},
		{
			name:      "Negative amount",
			input:     "-42.50",
			scale:     ScaleCents,
			wantCents: -4250,
		},
		{
			name:      "Investment scale",
			input:     "0.0000000001",
			scale:     ScaleInvestment,
			wantCents: 1,
		},
		{
			name:    "Too many fractional digits",
			input:   "1.001",
			scale:   ScaleCents,
			wantErr: true,
		},
		{
			name:    "Non-numeric",
			input:   "12,50",
			scale:   ScaleCents,
			wantErr: true,
		},
		{
			name:    "Empty string",
			input:   "",
			scale:   ScaleCents,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDecimalString(tt.input, tt.scale)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCents, got.Cents())
		})
	}
}

func TestFromMagnitudeString_RejectsNegative(t *testing.T) {
	_, err := FromMagnitudeString("-10.00", ScaleCents)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	m, err := FromMagnitudeString("10.00", ScaleCents)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.Cents())
}

// Round-trip property: parse then render yields the normalized input
func TestDecimalString_RoundTrip(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "150.00", want: "150.00"},
		{input: "150", want: "150.00"},
		{input: "0.01", want: "0.01"},
		{input: "-42.50", want: "-42.50"},
		{input: "1234567.89", want: "1234567.89"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := FromDecimalString(tt.input, ScaleCents)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.DecimalString(ScaleCents))

			again, err := FromDecimalString(m.DecimalString(ScaleCents), ScaleCents)
			require.NoError(t, err)
			assert.Equal(t, m, again)
		})
	}
}

func TestArithmetic(t *testing.T) {
	a := FromCents(1000)
	b := FromCents(250)

	assert.Equal(t, FromCents(1250), a.Add(b))
	assert.Equal(t, FromCents(750), a.Sub(b))
	assert.Equal(t, FromCents(-1000), a.Neg())
	assert.Equal(t, FromCents(1000), a.Neg().Abs())
	assert.True(t, a.IsPositive())
	assert.True(t, a.Neg().IsNegative())
	assert.True(t, Zero.IsZero())
}

func TestMulRate(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		rate  string
		want  int64
	}{
		{
			name:  "Identity rate",
			cents: 15000,
			rate:  "1",
			want:  15000,
		},
		{
			name:  "Truncates toward zero",
			cents: 999,
			rate:  "1.105",
			want:  1103, // 999 * 1.105 = 1103.895
		},
		{
			name:  "Negative truncates toward zero",
			cents: -999,
			rate:  "1.105",
			want:  -1103,
		},
		{
			name:  "Zero amount",
			cents: 0,
			rate:  "42.1",
			want:  0,
		},
		{
			name:  "Fractional rate",
			cents: 10000,
			rate:  "0.85321",
			want:  8532, // 8532.1 truncated
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := decimal.NewFromString(tt.rate)
			require.NoError(t, err)
			got := FromCents(tt.cents).MulRate(rate)
			assert.Equal(t, tt.want, got.Cents())
		})
	}
}

// Converting A -> B -> A must not drift by more than one minor unit
func TestMulRate_RoundTripDrift(t *testing.T) {
	rate, err := decimal.NewFromString("0.92614")
	require.NoError(t, err)
	inverse := decimal.NewFromInt(1).Div(rate)

	for _, cents := range []int64{1, 99, 100, 12345, 1000000} {
		orig := FromCents(cents)
		back := orig.MulRate(rate).MulRate(inverse)
		drift := orig.Sub(back).Abs()
		assert.LessOrEqual(t, drift.Cents(), int64(1), "cents=%d drifted by %d", cents, drift.Cents())
	}
}
