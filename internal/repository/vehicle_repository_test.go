package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	cases := map[string]string{
		"ab123cd":     "AB123CD",
		" AB 123 CD ": "AB123CD",
		"ab-123-cd":   "AB123CD",
		"AB123CD":     "AB123CD",
		"":            "",
		"  -  ":       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePlate(in), "input %q", in)
	}
}
