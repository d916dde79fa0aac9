package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceAttributes(t *testing.T) {
	attrs := ParseResourceAttributes(" service.namespace=shortsplit, broken ,team = media,")
	assert.Equal(t, map[string]string{
		"service.namespace": "shortsplit",
		"team":              "media",
	}, attrs)
	assert.Empty(t, ParseResourceAttributes(""))
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "shortsplit"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := Start(context.Background(), "noop")
	End(span, errors.New("boom"))
}
