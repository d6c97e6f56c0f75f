package clustering

import (
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

var reservedMeta = map[string]bool{
	substrate.MetaDomain:    true,
	substrate.MetaHTTPPort:  true,
	substrate.MetaHTTPSPort: true,
	substrate.MetaActive:    true,
}

// memberFromPeer converts the substrate peer descriptor to a member. Meta keys
// other than the reserved ones become member properties.
func memberFromPeer(p substrate.Peer) membership.Member {
	props := make(map[string]string)

	for k, v := range p.Meta {
		if !reservedMeta[k] {
			props[k] = v
		}
	}

	return membership.Member{
		ID:         membership.ID(p.ID),
		HostName:   p.Host,
		Port:       p.Port,
		HTTPPort:   substrate.ParseMetaInt(p.Meta, substrate.MetaHTTPPort),
		HTTPSPort:  substrate.ParseMetaInt(p.Meta, substrate.MetaHTTPSPort),
		Domain:     p.Meta[substrate.MetaDomain],
		Active:     substrate.ParseMetaBool(p.Meta, substrate.MetaActive, true),
		Properties: props,
	}
}
