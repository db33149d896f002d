package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/validate"
)

func TestBuiltinDefinitionsAreValid(t *testing.T) {
	for _, def := range All() {
		assert.NoError(t, validate.Definition(def), "definition %s", def.ID)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.NewRegistry(nil)
	require.NoError(t, Register(context.Background(), reg))

	assert.True(t, reg.Has("nhs_gp_connect"))
	assert.True(t, reg.Has("iot_devices"))

	def, err := reg.Get("nhs_gp_connect")
	require.NoError(t, err)
	_, ok := def.Endpoint("book_appointment")
	assert.True(t, ok)
}
