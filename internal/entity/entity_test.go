package entity

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

type fakeEntity struct {
	*Base
	err     error
	added   int
	removed int
}

func newFakeEntity(id, name string, err error) *fakeEntity {
	e := fakeEntity{Base: NewBase(id, name), err: err}
	return &e
}

func (f *fakeEntity) Added(_ context.Context) error {
	f.added++
	f.OnRemove(func() { f.removed++ })
	return f.err
}

func TestPlatform_AddEntities(t *testing.T) {
	p := NewPlatform[*fakeEntity](slog.New(slog.DiscardHandler))
	ch := p.Subscribe()
	defer p.Unsubscribe(ch)

	a := newFakeEntity("a", "Kitchen", nil)
	b := newFakeEntity("b", "Bedroom", errors.New("fail"))
	c := newFakeEntity("c", "Attic", nil)
	p.AddEntities(context.Background(), a, b, c)

	assert.Equal(t, 1, b.added)
	assert.Equal(t, 1, b.removed)
	_, ok := p.Entity("b")
	assert.False(t, ok)

	entities := p.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "Attic", entities[0].Name())
	assert.Equal(t, "Kitchen", entities[1].Name())

	// adding an entity publishes its initial state
	assert.Equal(t, "a", (<-ch).UniqueID())
	assert.Equal(t, "c", (<-ch).UniqueID())

	// duplicates are skipped
	p.AddEntities(context.Background(), a)
	assert.Equal(t, 1, a.added)
	assert.Len(t, p.Entities(), 2)
}

func TestPlatform_WriteState(t *testing.T) {
	p := NewPlatform[*fakeEntity](slog.New(slog.DiscardHandler))
	e := newFakeEntity("a", "Kitchen", nil)

	// not added yet: nothing to write to
	e.UpdateReachability(true)
	assert.True(t, e.Available())

	ch := p.Subscribe()
	defer p.Unsubscribe(ch)
	p.AddEntities(context.Background(), e)
	<-ch

	e.UpdateReachability(false)
	got := <-ch
	assert.False(t, got.Available())

	assert.True(t, got.Attached())

	// removing the entity publishes it one last time
	p.Remove("a")
	assert.Equal(t, 1, e.removed)
	assert.Empty(t, p.Entities())
	got = <-ch
	assert.False(t, got.Attached())

	e.WriteState()
	select {
	case <-ch:
		t.Fatal("removed entity should not publish its state")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPlatform_WriteStates(t *testing.T) {
	p := NewPlatform[*fakeEntity](slog.New(slog.DiscardHandler))
	p.AddEntities(context.Background(), newFakeEntity("a", "Kitchen", nil), newFakeEntity("b", "Attic", nil))

	// subscribers that arrive late see all entities on the next write
	ch := p.Subscribe()
	defer p.Unsubscribe(ch)
	p.WriteStates()

	assert.Equal(t, "b", (<-ch).UniqueID())
	assert.Equal(t, "a", (<-ch).UniqueID())
	assert.Empty(t, ch)
}

func TestBase_OnRemove(t *testing.T) {
	b := NewBase("a", "Kitchen")
	var calls []int
	b.OnRemove(func() { calls = append(calls, 1) })
	b.OnRemove(func() { calls = append(calls, 2) })
	b.remove()
	b.remove()
	assert.Equal(t, []int{2, 1}, calls)
}

func TestConfigEntry_Unload(t *testing.T) {
	p := NewPlatform[*fakeEntity](slog.New(slog.DiscardHandler))
	entry := NewConfigEntry("shc")
	e := newFakeEntity("a", "Kitchen", nil)

	var calls []string
	entry.OnUnload(p.RemoveAll)
	entry.OnUnload(func() { calls = append(calls, "listener") })
	p.AddEntities(context.Background(), e)

	entry.Unload()
	entry.Unload()
	assert.Equal(t, []string{"listener"}, calls)
	assert.Equal(t, 1, e.removed)
	assert.Empty(t, p.Entities())
}

func TestUserError(t *testing.T) {
	cause := errors.New("controller unreachable")
	var err error = &UserError{Message: "Failed to set temperature on Kitchen", Err: cause}

	assert.Equal(t, "Failed to set temperature on Kitchen", err.Error())
	assert.ErrorIs(t, err, cause)
	var userErr *UserError
	assert.ErrorAs(t, err, &userErr)
}
