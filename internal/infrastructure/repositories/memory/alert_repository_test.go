package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"comlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertAt(id int64, text string) domain.Alert {
	return domain.Alert{
		ID:        id,
		Level:     domain.AlertInfo,
		Text:      text,
		Origin:    domain.AlertOriginLocal,
		Timestamp: time.UnixMilli(id),
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	repo := NewMemoryAlertRepository(10)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, "ops-1", alertAt(1, "first")))
	require.NoError(t, repo.Append(ctx, "ops-1", alertAt(2, "second")))
	require.NoError(t, repo.Append(ctx, "ops-1", alertAt(3, "third")))

	history, err := repo.History(ctx, "ops-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "third", history[0].Text)
	assert.Equal(t, "second", history[1].Text)
}

func TestAppendCapsPerRoom(t *testing.T) {
	repo := NewMemoryAlertRepository(3)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, repo.Append(ctx, "ops-1", alertAt(i, fmt.Sprintf("alert %d", i))))
	}

	history, err := repo.History(ctx, "ops-1", 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "alert 10", history[0].Text)
	assert.Equal(t, "alert 8", history[2].Text)
}

func TestRoomsIsolated(t *testing.T) {
	repo := NewMemoryAlertRepository(10)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, "ops-1", alertAt(1, "one")))
	require.NoError(t, repo.Append(ctx, "ops-2", alertAt(2, "two")))

	history, err := repo.History(ctx, "ops-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "one", history[0].Text)

	empty, err := repo.History(ctx, "ops-3", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
