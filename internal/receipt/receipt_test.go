package receipt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadRoundTrip(t *testing.T) {
	for p, name := range payloadNames {
		got, err := ParsePayload(name)
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.Equal(t, name, p.String())
	}

	got, err := ParsePayload(" Contract_Call ")
	require.NoError(t, err)
	assert.Equal(t, PayloadContractCall, got)

	_, err = ParsePayload("tenure_change")
	assert.Error(t, err)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "external", OriginExternal.String())
	assert.Equal(t, "origin(9)", Origin(9).String())
	assert.Equal(t, "payload(42)", Payload(42).String())
}
