package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRegistryMembership(t *testing.T) {
	r := Default()

	for _, name := range []string{"status", "get_parameter", "set_parameter", "flip_constraint", "add_dataset", "run_compute", "get_model"} {
		assert.True(t, r.Known(name), "expected %s to be registered", name)
	}
	assert.False(t, r.Known("teleport_state"))
	assert.False(t, r.Known(""))
}

func TestRegisterReplaces(t *testing.T) {
	r := New()
	r.Register(CommandSpec{Name: "status", Description: "v1"})
	r.Register(CommandSpec{Name: "status", Description: "v2", Mutating: false})

	spec, ok := r.Get("status")
	assert.True(t, ok)
	assert.Equal(t, "v2", spec.Description)
}

func TestListSorted(t *testing.T) {
	r := Default()
	specs := r.List()
	assert.Len(t, specs, 7)
	for i := 1; i < len(specs); i++ {
		assert.Less(t, specs[i-1].Name, specs[i].Name)
	}
}
