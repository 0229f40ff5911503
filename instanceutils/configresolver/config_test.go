package configresolver

import (
	"testing"

	"github.com/ruteri/runtime-init/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParams(t *testing.T, kv ...string) *interfaces.Parameters {
	t.Helper()
	params := interfaces.NewParameters()
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, params.Set(kv[i], kv[i+1], false))
	}
	return params
}

func TestRender(t *testing.T) {
	params := newParams(t, "HOST_NAME", "bigip1.example.com", "ADMIN_PASS", "p@ss", "SELF_IP", "10.0.1.10/24")

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"double braces", "hostname: {{ HOST_NAME }}", "hostname: bigip1.example.com"},
		{"no whitespace", "hostname: {{HOST_NAME}}", "hostname: bigip1.example.com"},
		{"triple braces", `"password": "{{{ ADMIN_PASS }}}"`, `"password": "p@ss"`},
		{"repeated", "{{ SELF_IP }} {{ SELF_IP }}", "10.0.1.10/24 10.0.1.10/24"},
		{"no placeholders", "class: DO\nschemaVersion: 1.0.0\n", "class: DO\nschemaVersion: 1.0.0\n"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, err := Render(tt.template, params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rendered)
		})
	}
}

func TestRender_IdempotentWithoutPlaceholders(t *testing.T) {
	params := newParams(t, "A", "1")
	template := `{"class": "Telemetry", "port": 6514}`

	once, err := Render(template, params)
	require.NoError(t, err)
	twice, err := Render(once, params)
	require.NoError(t, err)

	assert.Equal(t, template, once)
	assert.Equal(t, once, twice)
}

func TestRender_SinglePass(t *testing.T) {
	params := newParams(t, "OUTER", "{{ INNER }}", "INNER", "value")

	rendered, err := Render("x={{ OUTER }}", params)
	require.NoError(t, err)
	assert.Equal(t, "x={{ INNER }}", rendered)
}

func TestRender_UndefinedVariable(t *testing.T) {
	params := newParams(t, "KNOWN", "v")

	_, err := Render("{{ KNOWN }} {{ MISSING_B }} {{{ MISSING_A }}} {{ MISSING_B }}", params)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUndefinedVariable)
	assert.Contains(t, err.Error(), "MISSING_A, MISSING_B")
}

func TestRender_NilParameters(t *testing.T) {
	rendered, err := Render("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", rendered)

	_, err = Render("{{ X }}", nil)
	assert.ErrorIs(t, err, interfaces.ErrUndefinedVariable)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"A", "B.c", "A"}, Placeholders("{{A}} {{{ B.c }}} {{ A }}"))
	assert.Empty(t, Placeholders("{ A } {{ }}"))
}
