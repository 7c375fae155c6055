package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modgate/internal/dispatch"
)

func testUnit(name string, kind Kind, closer *fakeCloser) *Unit {
	return &Unit{
		Name:     name,
		Kind:     kind,
		Handlers: []HandlerPair{{Handler: noopHandler(), Group: 0}},
		Commands: []string{name},
		Runtime:  closer,
	}
}

func TestRegistryAdmitAndRemove(t *testing.T) {
	router := dispatch.NewRouter()
	reg := NewRegistry(router)
	closer := &fakeCloser{}
	u := testUnit("a", KindStandard, closer)

	require.NoError(t, reg.Admit(u))
	assert.True(t, reg.IsActive(u.Key()))
	assert.True(t, reg.Catalog().Has(u.Key()))
	assert.Equal(t, 1, router.Len())

	info, ok := reg.Get(u.Key())
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, info.Commands)

	require.NoError(t, reg.Remove(u.Key()))
	assert.False(t, reg.IsActive(u.Key()))
	assert.False(t, reg.Catalog().Has(u.Key()))
	assert.Equal(t, 0, router.Len())
	assert.Equal(t, 1, closer.count())

	assert.ErrorIs(t, reg.Remove(u.Key()), ErrNotActive)
	assert.Equal(t, 1, closer.count())
}

func TestRegistryAdmitDuplicate(t *testing.T) {
	router := dispatch.NewRouter()
	reg := NewRegistry(router)

	require.NoError(t, reg.Admit(testUnit("a", KindStandard, &fakeCloser{})))
	err := reg.Admit(testUnit("a", KindStandard, &fakeCloser{}))
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, router.Len())
	assert.Equal(t, 1, reg.Len())

	// The same name under the other kind is a different unit.
	require.NoError(t, reg.Admit(testUnit("a", KindCompat, &fakeCloser{})))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryAdmitRegistrationFailure(t *testing.T) {
	reg := NewRegistry(&scriptedTable{failAdd: 1})
	u := testUnit("a", KindStandard, &fakeCloser{})

	assert.ErrorIs(t, reg.Admit(u), ErrRegistration)
	assert.False(t, reg.IsActive(u.Key()))
	assert.Equal(t, 0, reg.Catalog().Len())
}

func TestRegistryRemoveReportsCloseError(t *testing.T) {
	reg := NewRegistry(dispatch.NewRouter())
	closer := &fakeCloser{err: errors.New("close failed")}
	u := testUnit("a", KindStandard, closer)
	require.NoError(t, reg.Admit(u))

	err := reg.Remove(u.Key())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.False(t, reg.IsActive(u.Key()))
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry(dispatch.NewRouter())
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, reg.Admit(testUnit(name, KindStandard, &fakeCloser{})))
	}
	require.NoError(t, reg.Remove(Key{Kind: KindStandard, Name: "a"}))

	var names []string
	for _, info := range reg.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"c", "b"}, names)
	assert.Equal(t, []Key{{KindStandard, "c"}, {KindStandard, "b"}}, reg.Keys())
}
