package anpr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hvnguyen/smartpark/internal/camera"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"51f-12345", "51F-12345"},
		{" 51F 123.45 ", "51F12345"}, // separators stripped
		{"29A-5678", "29A-5678"},
		{"30e 99999", "30E99999"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Normalize(tc.in))
	}
}

func TestValid(t *testing.T) {
	valid := []string{"51F-12345", "51F12345", "29AB-1234", "30E-9999"}
	for _, p := range valid {
		require.True(t, Valid(p), p)
	}
	invalid := []string{"", "51F", "ABC-1234", "51F-123", "51F-123456", "5F-12345"}
	for _, p := range invalid {
		require.False(t, Valid(p), p)
	}
}

func TestDemoCyclesPlates(t *testing.T) {
	d := NewDemo("51F-12345", "29A-5678")
	frame := &camera.Frame{Data: []byte("x")}

	p1, err := d.Recognize(context.Background(), frame)
	require.NoError(t, err)
	p2, _ := d.Recognize(context.Background(), frame)
	p3, _ := d.Recognize(context.Background(), frame)

	require.Equal(t, "51F-12345", p1)
	require.Equal(t, "29A-5678", p2)
	require.Equal(t, p1, p3)

	_, err = d.Recognize(context.Background(), &camera.Frame{})
	require.ErrorIs(t, err, ErrNoPlate)
}
