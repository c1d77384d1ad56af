package registry_test

import (
	"testing"

	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/registry"
	"github.com/DmitrySigaev/RayPlatform/switchman"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndBindTagHandler(t *testing.T) {
	r := registry.New()
	h := r.AllocatePluginHandle()
	require.NoError(t, r.BeginRegistration(h))

	tag, err := r.AllocateTagHandle(h)
	require.NoError(t, err)

	called := false
	err = r.BindTagHandler(h, tag, "demo.tag", func(*message.Envelope) []*message.Envelope {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.EndRegistration(h))

	fn, ok := r.TagHandlerFor(tag)
	require.True(t, ok)
	fn(message.New(0, 1, tag, nil))
	require.True(t, called)
}

func TestBindRejectsUnownedTag(t *testing.T) {
	r := registry.New()
	h1 := r.AllocatePluginHandle()
	h2 := r.AllocatePluginHandle()

	tag, err := r.AllocateTagHandle(h1)
	require.NoError(t, err)

	err = r.BindTagHandler(h2, tag, "", func(*message.Envelope) []*message.Envelope { return nil })
	require.Error(t, err)
}

func TestDuplicateSymbolRejected(t *testing.T) {
	r := registry.New()
	h := r.AllocatePluginHandle()
	t1, _ := r.AllocateTagHandle(h)
	t2, _ := r.AllocateTagHandle(h)

	require.NoError(t, r.BindTagHandler(h, t1, "dup", func(*message.Envelope) []*message.Envelope { return nil }))
	err := r.BindTagHandler(h, t2, "dup", func(*message.Envelope) []*message.Envelope { return nil })
	require.Error(t, err)
}

func TestResolveSymbolFindsHandle(t *testing.T) {
	r := registry.New()
	h := r.AllocatePluginHandle()
	mode, err := r.AllocateMasterModeHandle(h)
	require.NoError(t, err)
	require.NoError(t, r.BindMasterModeHandler(h, mode, "master.demo", func() []*message.Envelope { return nil }))

	resolved, err := r.ResolveSymbol("master.demo")
	require.NoError(t, err)
	require.Equal(t, mode, resolved.(switchman.MasterMode))
}

func TestUnresolvedSymbolIsFatal(t *testing.T) {
	r := registry.New()
	_, err := r.ResolveSymbol("missing.symbol")
	require.Error(t, err)
}

func TestDispatchUniqueness(t *testing.T) {
	r := registry.New()
	h := r.AllocatePluginHandle()
	tag, _ := r.AllocateTagHandle(h)
	calls := 0
	require.NoError(t, r.BindTagHandler(h, tag, "", func(*message.Envelope) []*message.Envelope {
		calls++
		return nil
	}))

	fn, ok := r.TagHandlerFor(tag)
	require.True(t, ok)
	fn(message.New(0, 1, tag, nil))
	require.Equal(t, 1, calls)
}
