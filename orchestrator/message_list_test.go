package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingBus struct {
	fakeBus
}

func (b *failingBus) Advertise(ctx context.Context, groupID string) error {
	return errors.New("connection reset")
}

func TestAdvertisementList(t *testing.T) {
	bus := &fakeBus{}
	list := NewAdvertisementList()
	require.NoError(t, list.Advertise(context.Background(), bus, "group-a", map[string]int{"n": 1}))
	require.NoError(t, list.Advertise(context.Background(), bus, "group-b", []string{"x"}))

	payload, ok := list.Get("group-a")
	require.True(t, ok)
	require.JSONEq(t, `{"n":1}`, payload)
	require.Equal(t, []string{"group-a", "group-b"}, bus.advertised)
	require.Equal(t, 2, list.Len())

	list.Delete("group-a")
	_, ok = list.Get("group-a")
	require.False(t, ok)
	list.Clear()
	require.Zero(t, list.Len())
}

func TestAdvertisementListFailedPublish(t *testing.T) {
	list := NewAdvertisementList()
	err := list.Advertise(context.Background(), &failingBus{}, "group-a", 1)
	require.ErrorContains(t, err, "connection reset")
	_, ok := list.Get("group-a")
	require.False(t, ok)

	err = list.Advertise(context.Background(), &fakeBus{}, "group-b", func() {})
	require.Error(t, err)
	require.Zero(t, list.Len())
}
