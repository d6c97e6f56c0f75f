package substrate

import (
	"net"
	"strconv"
)

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseMetaInt returns the integer value of a meta key, or zero.
func ParseMetaInt(meta map[string]string, key string) int {
	v, err := strconv.Atoi(meta[key])
	if err != nil {
		return 0
	}

	return v
}

// ParseMetaBool returns the boolean value of a meta key, or the default.
func ParseMetaBool(meta map[string]string, key string, def bool) bool {
	v, err := strconv.ParseBool(meta[key])
	if err != nil {
		return def
	}

	return v
}

// NewMeta builds the meta map advertising a node. Zero ports are omitted.
func NewMeta(domain string, httpPort, httpsPort int, props map[string]string) map[string]string {
	meta := make(map[string]string, len(props)+3)
	for k, v := range props {
		meta[k] = v
	}

	meta[MetaDomain] = domain

	if httpPort > 0 {
		meta[MetaHTTPPort] = strconv.Itoa(httpPort)
	}

	if httpsPort > 0 {
		meta[MetaHTTPSPort] = strconv.Itoa(httpsPort)
	}

	return meta
}
