package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDailyActivityGroupsByCalendarDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	const day = int64(86400)
	base := int64(1700000000) // 2023-11-14, well clear of any DST boundary

	require.NoError(t, s.RecordSessionActivity(ctx, "a", base))
	require.NoError(t, s.RecordSessionActivity(ctx, "b", base+10))
	require.NoError(t, s.RecordSessionActivity(ctx, "c", base+day))

	activity, err := s.LoadDailyActivity(ctx)
	require.NoError(t, err)
	require.Len(t, activity, 2)

	assert.Equal(t, uint32(2), activity[0].SessionCount)
	assert.Equal(t, uint32(1), activity[1].SessionCount)
	assert.Equal(t, activity[0].DayKey+1, activity[1].DayKey)
}
