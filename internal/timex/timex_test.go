package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"3s","b":1000000000}`), &v))
	require.Equal(t, 3*time.Second, v.A.Duration)
	require.Equal(t, time.Second, v.B.Duration)

	require.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &v))
	require.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 5m\nb: 2000000000\n"), &v))
	require.Equal(t, 5*time.Minute, v.A.Duration)
	require.Equal(t, 2*time.Second, v.B.Duration)
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	require.Equal(t, at, Fixed(at).Now())
	require.Equal(t, at, FromMillis(at.UnixMilli()))
}
