package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/pkg/models"
)

func TestValidEntriesDropsMalformed(t *testing.T) {
	var stderr bytes.Buffer
	got := validEntries(&stderr, []string{"dev=a=b", "broken", "prod=x"})
	assert.Equal(t, []string{"dev=a=b", "prod=x"}, got)
	assert.Contains(t, stderr.String(), "broken")
}

func TestPageQuery(t *testing.T) {
	cmd := entityCmd(models.KindSecret)
	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)
	require.NoError(t, list.ParseFlags([]string{"--page", "2", "--limit", "10", "--order", "desc"}))

	q := pageQuery(list)
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "desc", q.Get("order"))
	assert.False(t, q.Has("sort"))
}

func TestEntityCmdTree(t *testing.T) {
	cmd := entityCmd(models.KindVariable)
	assert.Equal(t, "variables", cmd.Use)
	for _, name := range []string{"list", "create", "update", "get", "history", "rollback", "delete", "export"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
