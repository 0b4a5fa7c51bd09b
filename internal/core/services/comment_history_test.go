package services

import (
	"context"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentHistory_LiveRoomReadsRegistry(t *testing.T) {
	store := memory.NewMemoryCommentRepository()
	reg := newTestRegistry(store)
	history := NewCommentHistory(reg, store, time.Minute)
	defer history.Stop()
	ctx := context.Background()

	_, err := reg.CreateRoom(ctx, "r1")
	require.NoError(t, err)
	room, _ := reg.GetRoom("r1")
	room.mu.Lock()
	room.comments = append(room.comments, domain.Comment{ID: "c1", RoomID: "r1", Text: "in memory"})
	room.mu.Unlock()

	comments, err := history.LoadComments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "in memory", comments[0].Text)
}

func TestCommentHistory_ClosedRoomIsCached(t *testing.T) {
	store := memory.NewMemoryCommentRepository()
	reg := newTestRegistry(store)
	history := NewCommentHistory(reg, store, time.Minute)
	defer history.Stop()
	ctx := context.Background()

	require.NoError(t, store.AppendComment(ctx, "gone", domain.Comment{ID: "c1", Text: "first"}))

	comments, err := history.LoadComments(ctx, "gone")
	require.NoError(t, err)
	require.Len(t, comments, 1)

	require.NoError(t, store.AppendComment(ctx, "gone", domain.Comment{ID: "c2", Text: "second"}))
	comments, err = history.LoadComments(ctx, "gone")
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}
