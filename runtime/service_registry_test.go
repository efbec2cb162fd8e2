package runtime_test

import (
	"context"
	"testing"

	"github.com/lanternlabs/beacon-node/runtime"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name    string
	order   *[]string
	failOn  string
	started bool
}

func (f *fakeService) Start(ctx context.Context) error {
	f.started = true
	*f.order = append(*f.order, "start:"+f.name)
	return nil
}

func (f *fakeService) Stop() error {
	*f.order = append(*f.order, "stop:"+f.name)
	return nil
}

func (f *fakeService) Status() error { return nil }

func TestServiceRegistry_StartStopOrder(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	var order []string

	a := &fakeService{name: "a", order: &order}
	b := &fakeService{name: "b", order: &order}
	require.NoError(t, registry.RegisterService(a))
	require.NoError(t, registry.RegisterService(b))

	require.NoError(t, registry.StartAll(context.Background()))
	require.True(t, a.started)
	require.True(t, b.started)

	registry.StopAll()
	require.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, order)
}

func TestServiceRegistry_DuplicateRegistrationFails(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	var order []string
	a := &fakeService{name: "a", order: &order}
	require.NoError(t, registry.RegisterService(a))
	require.Error(t, registry.RegisterService(a))
}

func TestServiceRegistry_FetchService(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	var order []string
	a := &fakeService{name: "a", order: &order}
	require.NoError(t, registry.RegisterService(a))

	var fetched *fakeService
	require.NoError(t, registry.FetchService(&fetched))
	require.Same(t, a, fetched)
}

func TestServiceRegistry_FetchService_Unknown(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	var fetched *fakeService
	require.Error(t, registry.FetchService(&fetched))
}
