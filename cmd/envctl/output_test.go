package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withFormat(t *testing.T, format, field string) {
	t.Helper()
	prevFormat, prevField := outputFormat, outputField
	outputFormat, outputField = format, field
	t.Cleanup(func() { outputFormat, outputField = prevFormat, prevField })
}

func TestPrintResultRawField(t *testing.T) {
	withFormat(t, "raw", "value")
	var buf bytes.Buffer
	printResult(&buf, map[string]any{"value": "s3cret", "version": 2.0})
	assert.Equal(t, "s3cret\n", buf.String())
}

func TestPrintResultRawAll(t *testing.T) {
	withFormat(t, "raw", "")
	var buf bytes.Buffer
	printResult(&buf, map[string]any{"b": 2.0, "a": "x"})
	assert.Equal(t, "a=x\nb=2\n", buf.String())
}

func TestPrintPageTable(t *testing.T) {
	withFormat(t, "table", "")
	page := map[string]any{
		"items": []any{
			map[string]any{"slug": "api-key", "name": "API_KEY"},
			map[string]any{"slug": "port", "name": "PORT", "rotateAt": nil},
		},
		"metadata": map[string]any{
			"totalCount": 3.0,
			"links":      map[string]any{"next": "/v1/x?page=1"},
		},
	}
	var buf bytes.Buffer
	printPage(&buf, page, "slug", "name", "rotateAt")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Contains(t, lines[0], "SLUG")
	assert.Contains(t, lines[1], "api-key")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "-"))
	assert.Equal(t, "2 of 3 (more with --page)", lines[len(lines)-1])
}

func TestPrintWarnings(t *testing.T) {
	var buf bytes.Buffer
	printWarnings(&buf, map[string]any{
		"warnings": []any{map[string]any{"raw": "dev", "reason": "missing '='"}},
	})
	assert.Equal(t, "Warning: skipped entry \"dev\": missing '='\n", buf.String())
}
