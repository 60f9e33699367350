package buddy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{15, 16},
		{16, 16},
		{17, 32},
		{1000, 1024},
		{1 << 31, 1 << 31},
		{(1 << 31) + 1, 1 << 32},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, roundUpToPowerOfTwo(tt.in))
		})
	}
}

func TestLevelForCapacity(t *testing.T) {
	tests := []struct {
		capacity uint64
		want     int
	}{
		{1, 0},
		{8, 0},
		{16, 0},
		{32, 1},
		{64, 2},
		{128, 3},
		{1 << 20, 16},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.capacity), func(t *testing.T) {
			assert.Equal(t, tt.want, levelForCapacity(tt.capacity))
		})
	}
}
