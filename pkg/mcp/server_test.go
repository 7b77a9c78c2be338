package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAutomationServerRegistersTools(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())

	tools := srv.tools()
	require.Len(t, tools, 5)

	names := make(map[string]bool, len(tools))
	for _, st := range tools {
		names[st.Tool.Name] = true
	}
	for _, want := range []string{
		"automation.trigger",
		"automation.define",
		"automation.status",
		"automation.cancel",
		"automation.query",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}
