package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <text>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <text>", out)

	out, err = RenderTemplate(`{{.Count}} events for {{upper .Name}}: {{join ", " .Items}} {{default "n/a" .Empty}}`, map[string]any{
		"Count": 3,
		"Name":  "s1",
		"Items": []string{"a<b", "c"},
		"Empty": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "3 events for S1: a<b, c n/a", out)

	out, err = RenderTemplate(`{{truncate 3 .S}}`, map[string]any{"S": "abcdef"})
	require.NoError(t, err)
	assert.Equal(t, "abc...", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}
