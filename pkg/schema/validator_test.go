package schema_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decisionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["decision", "actor"],
  "properties": {
    "decision": {"enum": ["ALLOW", "DENY", "DEGRADE"]},
    "actor": {"type": "string", "minLength": 1},
    "risk": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

func TestAcceptAll(t *testing.T) {
	r := schema.AcceptAll{}.Validate(canonicalize.Payload{"anything": true}, "")
	assert.True(t, r.Valid)
	assert.Nil(t, r.Error)
	assert.Empty(t, r.Reason())
}

func TestJSONSchema_ValidAndInvalid(t *testing.T) {
	v := schema.NewJSONSchema()
	require.NoError(t, v.Add("decision", decisionSchema))

	ok := v.Validate(canonicalize.Payload{"decision": "ALLOW", "actor": "agent-7", "risk": 0.2}, "decision")
	assert.True(t, ok.Valid, ok.Reason())

	bad := v.Validate(canonicalize.Payload{"decision": "MAYBE", "actor": "agent-7"}, "decision")
	assert.False(t, bad.Valid)
	require.NotNil(t, bad.Error)
	assert.NotEmpty(t, bad.Reason())

	missing := v.Validate(canonicalize.Payload{"decision": "DENY"}, "decision")
	assert.False(t, missing.Valid)
}

func TestJSONSchema_IntegersValidateAsNumbers(t *testing.T) {
	v := schema.NewJSONSchema()
	require.NoError(t, v.Add("decision", decisionSchema))

	r := v.Validate(canonicalize.Payload{"decision": "ALLOW", "actor": "a", "risk": 1}, "decision")
	assert.True(t, r.Valid, r.Reason())
}

func TestJSONSchema_UnknownSchemaFailsClosed(t *testing.T) {
	v := schema.NewJSONSchema()
	r := v.Validate(canonicalize.Payload{"decision": "ALLOW"}, "nope")
	assert.False(t, r.Valid)
	assert.Contains(t, r.Reason(), "unknown schema")
}

func TestJSONSchema_UnencodablePayload(t *testing.T) {
	v := schema.NewJSONSchema()
	require.NoError(t, v.Add("decision", decisionSchema))

	r := v.Validate(canonicalize.Payload{"decision": "ALLOW", "actor": "a", "risk": math.NaN()}, "decision")
	assert.False(t, r.Valid)
}

func TestJSONSchema_AddRejectsBrokenSchema(t *testing.T) {
	v := schema.NewJSONSchema()
	assert.Error(t, v.Add("garbage", `{not json`))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decision.schema.json"), []byte(decisionSchema), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	v, err := schema.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"decision"}, v.IDs())

	_, err = schema.LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
