package main

import (
	"strings"
)

var opts struct {
	Node struct {
		Name       string            `long:"name" env:"NAME" description:"unique node name, generated from the host name if empty"`
		Domain     string            `long:"domain" env:"DOMAIN" description:"cluster domain" default:"default"`
		HTTPPort   int               `long:"http-port" env:"HTTP_PORT" description:"advertised http port"`
		HTTPSPort  int               `long:"https-port" env:"HTTPS_PORT" description:"advertised https port"`
		Properties map[string]string `long:"property" env:"PROPERTIES" env-delim:"," description:"member property (key:value)"`
		DrainDelay int               `long:"drain-delay" env:"DRAIN_DELAY" description:"time between announcing the node inactive and leaving the cluster (ms)" default:"2000"`
	} `group:"node" namespace:"node" env-namespace:"NODE"`

	Cluster struct {
		Disabled         bool   `long:"disabled" env:"DISABLED" description:"do not join any cluster"`
		Scheme           string `long:"scheme" env:"SCHEME" description:"membership scheme" choice:"well-known-address" choice:"multicast" choice:"cloud-discovery" default:"well-known-address"`
		BindAddr         string `long:"bind-addr" env:"BIND_ADDR" description:"gossip bind address" default:"0.0.0.0"`
		BindPort         int    `long:"bind-port" env:"BIND_PORT" description:"gossip bind port" default:"7946"`
		AdvertiseAddr    string `long:"advertise-addr" env:"ADVERTISE_ADDR" description:"address to advertise to other nodes"`
		AdvertisePort    int    `long:"advertise-port" env:"ADVERTISE_PORT" description:"port to advertise to other nodes"`
		Profile          string `long:"profile" env:"PROFILE" description:"network profile" choice:"lan" choice:"wan" choice:"local" default:"lan"`
		SecretKey        string `long:"secret-key" env:"SECRET_KEY" description:"gossip encryption key (16, 24 or 32 bytes)"`
		JoinAttempts     uint   `long:"join-attempts" env:"JOIN_ATTEMPTS" description:"number of attempts to join the group" default:"10"`
		RetentionWindow  int    `long:"retention-window" env:"RETENTION_WINDOW" description:"how long sent messages are kept for replay (s)" default:"300"`
		CleanupInterval  int    `long:"cleanup-interval" env:"CLEANUP_INTERVAL" description:"eviction period (s)" default:"120"`
		CleanupBatchSize int    `long:"cleanup-batch-size" env:"CLEANUP_BATCH_SIZE" description:"max entries evicted per run" default:"5000"`
	} `group:"cluster" namespace:"cluster" env-namespace:"CLUSTER"`

	WKA struct {
		Seeds string `long:"seeds" env:"SEEDS" description:"comma-separated list of well-known members"`
	} `group:"wka" namespace:"wka" env-namespace:"WKA"`

	Multicast struct {
		Group     string `long:"group" env:"GROUP" description:"multicast group address" default:"228.0.0.4"`
		Port      int    `long:"port" env:"PORT" description:"multicast port" default:"45564"`
		Interface string `long:"interface" env:"INTERFACE" description:"network interface to use"`
		TTL       int    `long:"ttl" env:"TTL" description:"multicast ttl" default:"1"`
		Window    int    `long:"window" env:"WINDOW" description:"discovery window (ms)" default:"3000"`
		Interval  int    `long:"interval" env:"INTERVAL" description:"announce interval (ms)" default:"5000"`
	} `group:"multicast" namespace:"multicast" env-namespace:"MULTICAST"`

	Etcd struct {
		Endpoints   string `long:"endpoints" env:"ENDPOINTS" description:"comma-separated list of etcd endpoints" default:"127.0.0.1:2379"`
		Prefix      string `long:"prefix" env:"PREFIX" description:"key prefix" default:"/clusteragent"`
		TTL         int    `long:"ttl" env:"TTL" description:"registration ttl (s)" default:"15"`
		DialTimeout int    `long:"dial-timeout" env:"DIAL_TIMEOUT" description:"dial timeout (ms)" default:"5000"`
		Refresh     int    `long:"refresh" env:"REFRESH" description:"peer refresh interval (s)" default:"30"`
	} `group:"etcd" namespace:"etcd" env-namespace:"ETCD"`

	Health struct {
		BindAddr string `long:"bind-addr" env:"BIND_ADDR" description:"address to bind grpc health server, disabled if empty" default:":7947"`
	} `group:"health" namespace:"health" env-namespace:"HEALTH"`

	Verbose bool `long:"verbose" description:"verbose mode" env:"VERBOSE"`
}

func parseAddrs(addrs string) []string {
	sl := strings.Split(addrs, ",")
	res := make([]string, 0, len(sl))

	for _, addr := range sl {
		trimmed := strings.TrimSpace(addr)
		if trimmed != "" {
			res = append(res, trimmed)
		}
	}

	return res
}
