package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeer struct {
	id domain.ConnID

	mu     sync.Mutex
	frames [][]byte
	closed string
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: domain.ConnID(id)}
}

func (p *fakePeer) ID() domain.ConnID { return p.id }

func (p *fakePeer) Identity() *domain.Identity { return nil }

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) SendBinary(data []byte) bool { return p.Send(data) }

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = reason
}

type failingCommentRepository struct{}

func (failingCommentRepository) AppendComment(context.Context, domain.RoomID, domain.Comment) error {
	return errors.New("disk full")
}

func (failingCommentRepository) LoadComments(context.Context, domain.RoomID) ([]domain.Comment, error) {
	return nil, errors.New("disk full")
}

// gatedCommentRepository holds each append until release is closed.
type gatedCommentRepository struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCommentRepository) AppendComment(context.Context, domain.RoomID, domain.Comment) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func (g *gatedCommentRepository) LoadComments(context.Context, domain.RoomID) ([]domain.Comment, error) {
	return nil, nil
}

func newTestRegistry(repo ports.CommentRepository) *RoomRegistry {
	if repo == nil {
		repo = memory.NewMemoryCommentRepository()
	}
	return NewRoomRegistry(repo, time.Second, zap.NewNop().Sugar())
}

func TestRoomRegistry_CreateRoom(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()

	t.Run("generated ids are unique", func(t *testing.T) {
		a, err := reg.CreateRoom(ctx, "")
		require.NoError(t, err)
		b, err := reg.CreateRoom(ctx, "")
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, domain.RoomForming, a.State())
	})

	t.Run("caller id conflicts", func(t *testing.T) {
		_, err := reg.CreateRoom(ctx, "r1")
		require.NoError(t, err)
		_, err = reg.CreateRoom(ctx, "r1")
		assert.ErrorIs(t, err, domain.ErrRoomExists)
	})

	t.Run("seeded from stored history", func(t *testing.T) {
		repo := memory.NewMemoryCommentRepository()
		require.NoError(t, repo.AppendComment(ctx, "old", domain.Comment{ID: "1", Text: "earlier"}))
		reg := newTestRegistry(repo)

		room, err := reg.CreateRoom(ctx, "old")
		require.NoError(t, err)
		comments := room.Comments()
		require.Len(t, comments, 1)
		assert.Equal(t, "earlier", comments[0].Text)
	})

	t.Run("history load failure still creates room", func(t *testing.T) {
		reg := newTestRegistry(failingCommentRepository{})
		room, err := reg.CreateRoom(ctx, "r9")
		require.NoError(t, err)
		assert.Empty(t, room.Comments())
	})
}

func TestRoomRegistry_BindStreamer(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()

	_, err := reg.BindStreamer("missing", newFakePeer("s0"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room, err := reg.CreateRoom(ctx, "r1")
	require.NoError(t, err)

	first := newFakePeer("s1")
	displaced, err := reg.BindStreamer("r1", first)
	require.NoError(t, err)
	assert.Nil(t, displaced)
	assert.Equal(t, domain.RoomLive, room.State())

	t.Run("rebinding the same streamer is a no-op", func(t *testing.T) {
		displaced, err := reg.BindStreamer("r1", first)
		require.NoError(t, err)
		assert.Nil(t, displaced)
	})

	t.Run("second streamer displaces the first", func(t *testing.T) {
		second := newFakePeer("s2")
		displaced, err := reg.BindStreamer("r1", second)
		require.NoError(t, err)
		require.NotNil(t, displaced)
		assert.Equal(t, first.ID(), displaced.ID())

		_, bound := reg.Membership(first.ID())
		assert.False(t, bound)
		m, bound := reg.Membership(second.ID())
		require.True(t, bound)
		assert.Equal(t, domain.RoleStreamer, m.Role)
		assert.True(t, room.Summary().HasStreamer)
	})

	t.Run("bound elsewhere", func(t *testing.T) {
		_, err := reg.CreateRoom(ctx, "r2")
		require.NoError(t, err)
		_, err = reg.BindStreamer("r2", newFakePeer("s2"))
		assert.ErrorIs(t, err, domain.ErrAlreadyBound)
	})
}

func TestRoomRegistry_AddViewer(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()

	err := reg.AddViewer("missing", newFakePeer("v0"), nil)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = reg.CreateRoom(ctx, "r1")
	require.NoError(t, err)

	viewer := newFakePeer("v1")
	err = reg.AddViewer("r1", viewer, nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveStream)
	_, bound := reg.Membership(viewer.ID())
	assert.False(t, bound, "failed join must leave the connection unbound")

	_, err = reg.BindStreamer("r1", newFakePeer("s1"))
	require.NoError(t, err)

	var history []domain.Comment
	called := false
	err = reg.AddViewer("r1", viewer, func(h []domain.Comment) {
		called = true
		history = h
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, history)

	called = false
	require.NoError(t, reg.AddViewer("r1", viewer, func([]domain.Comment) { called = true }))
	assert.True(t, called, "a repeat join replays the history")
	snap, err := reg.Snapshot(viewer.ID())
	require.NoError(t, err)
	assert.Len(t, snap.Viewers, 1, "a repeat join must not add the viewer twice")

	_, err = reg.CreateRoom(ctx, "r2")
	require.NoError(t, err)
	_, err = reg.BindStreamer("r2", newFakePeer("s2"))
	require.NoError(t, err)
	assert.ErrorIs(t, reg.AddViewer("r2", viewer, nil), domain.ErrAlreadyBound)
}

func TestRoomRegistry_RemoveConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("streamer departure closes and deletes the room", func(t *testing.T) {
		reg := newTestRegistry(nil)
		room, _ := reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, err := reg.BindStreamer("r1", streamer)
		require.NoError(t, err)
		v1, v2 := newFakePeer("v1"), newFakePeer("v2")
		require.NoError(t, reg.AddViewer("r1", v1, nil))
		require.NoError(t, reg.AddViewer("r1", v2, nil))

		removal, ok := reg.RemoveConnection(streamer.ID())
		require.True(t, ok)
		assert.True(t, removal.Closed)
		assert.True(t, removal.Deleted)
		assert.Len(t, removal.Evicted, 2)
		assert.Equal(t, domain.RoomClosed, room.State())

		_, exists := reg.GetRoom("r1")
		assert.False(t, exists)
		_, bound := reg.Membership(v1.ID())
		assert.False(t, bound)
		assert.ErrorIs(t, reg.AddViewer("r1", newFakePeer("v3"), nil), domain.ErrRoomNotFound)
	})

	t.Run("viewer departure keeps the room", func(t *testing.T) {
		reg := newTestRegistry(nil)
		_, _ = reg.CreateRoom(ctx, "r1")
		_, _ = reg.BindStreamer("r1", newFakePeer("s1"))
		viewer := newFakePeer("v1")
		require.NoError(t, reg.AddViewer("r1", viewer, nil))

		removal, ok := reg.RemoveConnection(viewer.ID())
		require.True(t, ok)
		assert.False(t, removal.Closed)
		assert.False(t, removal.Deleted)
		assert.Equal(t, domain.RoleViewer, removal.Role)

		room, exists := reg.GetRoom("r1")
		require.True(t, exists)
		assert.Zero(t, room.Summary().ViewerCount)
	})

	t.Run("unbound connection", func(t *testing.T) {
		reg := newTestRegistry(nil)
		_, ok := reg.RemoveConnection("nobody")
		assert.False(t, ok)
	})

	t.Run("concurrent removals collapse to one", func(t *testing.T) {
		reg := newTestRegistry(nil)
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)

		var wg sync.WaitGroup
		var mu sync.Mutex
		removed := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := reg.RemoveConnection(streamer.ID()); ok {
					mu.Lock()
					removed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, removed)
	})
}

func TestRoomRegistry_PostComment(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a binding", func(t *testing.T) {
		reg := newTestRegistry(nil)
		_, err := reg.PostComment(ctx, "ghost", "", "hi", nil)
		assert.ErrorIs(t, err, domain.ErrNotInRoom)
	})

	t.Run("persists then delivers to all members", func(t *testing.T) {
		repo := memory.NewMemoryCommentRepository()
		reg := newTestRegistry(repo)
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)
		viewer := newFakePeer("v1")
		require.NoError(t, reg.AddViewer("r1", viewer, nil))

		var gotStreamer ports.Peer
		var gotViewers []ports.Peer
		comment, err := reg.PostComment(ctx, viewer.ID(), "bob", "hi", func(c domain.Comment, s ports.Peer, vs []ports.Peer) {
			stored, err := repo.LoadComments(ctx, "r1")
			require.NoError(t, err)
			assert.Len(t, stored, 1, "comment must be persisted before delivery")
			gotStreamer, gotViewers = s, vs
		})
		require.NoError(t, err)

		assert.NotEmpty(t, comment.ID)
		assert.Equal(t, viewer.ID(), comment.Author)
		assert.Equal(t, "bob", comment.AuthorName)
		assert.Equal(t, streamer.ID(), gotStreamer.ID())
		require.Len(t, gotViewers, 1)

		room, _ := reg.GetRoom("r1")
		assert.Len(t, room.Comments(), 1)
	})

	t.Run("persistence failure still delivers", func(t *testing.T) {
		reg := newTestRegistry(failingCommentRepository{})
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)

		delivered := false
		_, err := reg.PostComment(ctx, streamer.ID(), "", "hi", func(domain.Comment, ports.Peer, []ports.Peer) {
			delivered = true
		})
		assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
		assert.True(t, delivered)

		room, _ := reg.GetRoom("r1")
		assert.Len(t, room.Comments(), 1)
	})

	t.Run("room closed before the post is not persisted", func(t *testing.T) {
		repo := memory.NewMemoryCommentRepository()
		reg := newTestRegistry(repo)
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)
		viewer := newFakePeer("v1")
		require.NoError(t, reg.AddViewer("r1", viewer, nil))

		room, _ := reg.GetRoom("r1")
		room.postMu.Lock()
		result := make(chan error, 1)
		go func() {
			_, err := reg.PostComment(ctx, viewer.ID(), "", "late", nil)
			result <- err
		}()
		time.Sleep(10 * time.Millisecond)

		_, ok := reg.RemoveConnection(streamer.ID())
		require.True(t, ok)
		room.postMu.Unlock()

		assert.ErrorIs(t, <-result, domain.ErrNotInRoom)
		stored, err := repo.LoadComments(ctx, "r1")
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("room closed during the append still delivers to accepted members", func(t *testing.T) {
		repo := &gatedCommentRepository{entered: make(chan struct{}), release: make(chan struct{})}
		reg := newTestRegistry(repo)
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)
		viewer := newFakePeer("v1")
		require.NoError(t, reg.AddViewer("r1", viewer, nil))

		var gotViewers []ports.Peer
		result := make(chan error, 1)
		go func() {
			_, err := reg.PostComment(ctx, viewer.ID(), "", "bye", func(_ domain.Comment, _ ports.Peer, vs []ports.Peer) {
				gotViewers = vs
			})
			result <- err
		}()
		<-repo.entered

		removal, ok := reg.RemoveConnection(streamer.ID())
		require.True(t, ok)
		require.True(t, removal.Closed)

		settled := make(chan struct{})
		go removal.Settle(func() { close(settled) })
		select {
		case <-settled:
			t.Fatal("settle ran while a post was in flight")
		case <-time.After(10 * time.Millisecond):
		}

		close(repo.release)
		require.NoError(t, <-result)
		<-settled
		require.Len(t, gotViewers, 1)
		assert.Equal(t, viewer.ID(), gotViewers[0].ID())
	})

	t.Run("ids sort in post order", func(t *testing.T) {
		reg := newTestRegistry(nil)
		_, _ = reg.CreateRoom(ctx, "r1")
		streamer := newFakePeer("s1")
		_, _ = reg.BindStreamer("r1", streamer)

		var last string
		for i := 0; i < 20; i++ {
			c, err := reg.PostComment(ctx, streamer.ID(), "", fmt.Sprintf("c%d", i), nil)
			require.NoError(t, err)
			assert.Greater(t, c.ID, last)
			last = c.ID
		}
	})
}

// A viewer joining while comments are being posted sees each comment
// exactly once: either in its join history or as a live delivery.
func TestRoomRegistry_JoinDuringPostsIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	_, _ = reg.CreateRoom(ctx, "r1")
	streamer := newFakePeer("s1")
	_, _ = reg.BindStreamer("r1", streamer)

	const total = 200
	viewer := newFakePeer("v1")

	var mu sync.Mutex
	seen := map[string]int{}
	record := func(c domain.Comment) {
		mu.Lock()
		seen[c.Text]++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_, err := reg.PostComment(ctx, streamer.ID(), "", fmt.Sprintf("c%d", i), func(c domain.Comment, _ ports.Peer, vs []ports.Peer) {
				for _, v := range vs {
					if v.ID() == viewer.ID() {
						record(c)
					}
				}
			})
			assert.NoError(t, err)
		}
	}()

	time.Sleep(time.Millisecond)
	require.NoError(t, reg.AddViewer("r1", viewer, func(history []domain.Comment) {
		for _, c := range history {
			record(c)
		}
	}))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, total)
	for text, n := range seen {
		assert.Equal(t, 1, n, "comment %s", text)
	}
}

func TestRoomRegistry_Sweep(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()
	now := time.Now()
	reg.now = func() time.Time { return now }

	_, _ = reg.CreateRoom(ctx, "idle")
	_, _ = reg.CreateRoom(ctx, "busy")
	_, _ = reg.BindStreamer("busy", newFakePeer("s1"))

	assert.Empty(t, reg.Sweep(time.Minute))

	now = now.Add(2 * time.Minute)
	swept := reg.Sweep(time.Minute)
	assert.Equal(t, []domain.RoomID{"idle"}, swept)
	assert.Equal(t, 1, reg.Count())
}

func TestRoomRegistry_RunSweeper(t *testing.T) {
	reg := newTestRegistry(nil)
	_, _ = reg.CreateRoom(context.Background(), "idle")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.RunSweeper(ctx, 5*time.Millisecond, 0) }()

	assert.Eventually(t, func() bool { return reg.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRoomRegistry_Drain(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()
	_, _ = reg.CreateRoom(ctx, "r1")
	_, _ = reg.BindStreamer("r1", newFakePeer("s1"))
	require.NoError(t, reg.AddViewer("r1", newFakePeer("v1"), nil))
	_, _ = reg.CreateRoom(ctx, "r2")

	removals := reg.Drain()
	assert.Len(t, removals, 2)
	evicted := 0
	for _, r := range removals {
		evicted += len(r.Evicted)
	}
	assert.Equal(t, 2, evicted)
	assert.Zero(t, reg.Count())
	_, bound := reg.Membership("v1")
	assert.False(t, bound)
}

func TestRoomRegistry_List(t *testing.T) {
	reg := newTestRegistry(nil)
	ctx := context.Background()
	base := time.Now()
	tick := 0
	reg.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, _ = reg.CreateRoom(ctx, "a")
	_, _ = reg.CreateRoom(ctx, "b")

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomID("a"), list[0].ID)
	assert.Equal(t, domain.RoomForming, list[1].State)
}
