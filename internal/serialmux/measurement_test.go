package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeasurement(t *testing.T) {
	t.Parallel()

	valid := []struct {
		line string
		want Measurement
	}{
		{"1,2,3,4", Measurement{1, 2, 3, 4}},
		{"  -0.5 1e-3\t2 0  ", Measurement{-0.5, 0.001, 2, 0}},
		{"1, 2, 3, 4\r", Measurement{1, 2, 3, 4}},
		{`{"x": 0.1, "y": -0.2, "vx": 0, "vy": 1.5}`, Measurement{0.1, -0.2, 0, 1.5}},
	}
	for _, tt := range valid {
		got, err := ParseMeasurement(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	invalid := []string{
		"",
		"1,2,3",
		"1,2,3,4,5",
		"1,2,three,4",
		"NaN,0,0,0",
		"0,Inf,0,0",
		`{"x": 1, "y": 2, "vx": 0}`,
		`{"x": 1,`,
	}
	for _, line := range invalid {
		_, err := ParseMeasurement(line)
		assert.ErrorIs(t, err, ErrBadMeasurement, "%q", line)
	}
}

func TestMeasurementSlice(t *testing.T) {
	t.Parallel()

	m := Measurement{1, 2, 3, 4}
	s := m.Slice()
	s[0] = 9
	assert.Equal(t, 1.0, m[0])
	assert.Len(t, s, 4)
}

func TestPortOptions(t *testing.T) {
	t.Parallel()

	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.Normalize()
		assert.Error(t, err)
		_, err = bad.SerialMode()
		assert.Error(t, err)
	}

	mode, err := PortOptions{Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
}
