package dbx

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMillisRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	require.Equal(t, at, Time(Millis(at)))
	require.Equal(t, int64(0), Millis(time.Time{}))
	require.True(t, Time(0).IsZero())

	require.False(t, NullMillis(nil).Valid)
	require.Nil(t, TimePtr(sql.NullInt64{}))
	require.Equal(t, at, *TimePtr(NullMillis(&at)))
}

func TestFloatAndBool(t *testing.T) {
	f := 2.5
	require.Equal(t, 2.5, *FloatPtr(NullFloat(&f)))
	require.Nil(t, FloatPtr(NullFloat(nil)))
	require.Equal(t, 1, Bool(true))
	require.Equal(t, 0, Bool(false))
}
