package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeer_Addr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:7946", Peer{Host: "10.0.0.1", Port: 7946}.Addr())
	assert.Equal(t, "[::1]:7946", Peer{Host: "::1", Port: 7946}.Addr())
}

func TestParseMeta(t *testing.T) {
	meta := map[string]string{
		MetaHTTPPort: "8080",
		MetaActive:   "false",
		"broken":     "x",
	}

	assert.Equal(t, 8080, ParseMetaInt(meta, MetaHTTPPort))
	assert.Equal(t, 0, ParseMetaInt(meta, "broken"))
	assert.Equal(t, 0, ParseMetaInt(meta, MetaHTTPSPort))

	assert.False(t, ParseMetaBool(meta, MetaActive, true))
	assert.True(t, ParseMetaBool(meta, "broken", true))
}

func TestPeerEventType_String(t *testing.T) {
	assert.Equal(t, "joined", PeerJoined.String())
	assert.Equal(t, "left", PeerLeft.String())
	assert.Equal(t, "updated", PeerUpdated.String())
	assert.Equal(t, "", PeerEventType(0).String())
}

func TestNewMeta(t *testing.T) {
	meta := NewMeta("test", 8080, 0, map[string]string{"subDomain": "worker"})

	assert.Equal(t, map[string]string{
		MetaDomain:   "test",
		MetaHTTPPort: "8080",
		"subDomain":  "worker",
	}, meta)
}
