package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Broadcast(t *testing.T) {
	frame, err := encodeFrame(frameBroadcast, "", []byte("payload"))
	require.NoError(t, err)

	kind, target, payload, err := decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, frameBroadcast, kind)
	assert.Empty(t, target)
	assert.Equal(t, []byte("payload"), payload)
}

func TestFrame_Direct(t *testing.T) {
	frame, err := encodeFrame(frameDirect, "node1", []byte("payload"))
	require.NoError(t, err)

	kind, target, payload, err := decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, frameDirect, kind)
	assert.Equal(t, "node1", target)
	assert.Equal(t, []byte("payload"), payload)
}

func TestFrame_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":        {},
		"unknown kind": {42, 1, 2},
		"short target": {byte(frameDirect), 10, 'a'},
		"no length":    {byte(frameDirect)},
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := decodeFrame(b)
			assert.ErrorIs(t, err, errMalformedFrame)
		})
	}
}

func TestMeta_Roundtrip(t *testing.T) {
	raw, err := encodeMeta(map[string]string{"domain": "test"})
	require.NoError(t, err)

	meta, err := decodeMeta(raw)
	require.NoError(t, err)
	assert.Equal(t, "test", meta["domain"])

	meta, err = decodeMeta(nil)
	require.NoError(t, err)
	assert.Empty(t, meta)
}
