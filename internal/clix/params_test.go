package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flags.Int("limit", 0, "")
	flags.Int("offset", 0, "")
	require.NoError(t, flags.Parse([]string{"--limit", "-3", "--offset", "-1"}))

	p, err := ParsePagination(flags)
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 20, Offset: 0}, p)

	require.NoError(t, flags.Parse([]string{"--limit", "5", "--offset", "10"}))
	p, err = ParsePagination(flags)
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 5, Offset: 10}, p)
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"files=a.raw,b.raw", "expr=x=1", " db =human", "db=mouse"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"files": "a.raw,b.raw", "expr": "x=1", "db": "mouse"}, params)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := ParseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}
