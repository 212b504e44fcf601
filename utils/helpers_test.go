package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, BackoffDelay(1))
	require.Equal(t, 200*time.Millisecond, BackoffDelay(2))
	require.Equal(t, 400*time.Millisecond, BackoffDelay(3))
	require.Equal(t, 5*time.Second, BackoffDelay(20), "delay is capped")
}

func TestValidateStruct(t *testing.T) {
	type cmd struct {
		Name string `validate:"required"`
	}
	require.Error(t, ValidateStruct(cmd{}))
	require.NoError(t, ValidateStruct(cmd{Name: "x"}))
}
