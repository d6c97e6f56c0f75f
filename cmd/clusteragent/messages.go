package main

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/membership"
)

const helloKind = "hello"

// helloMessage is broadcast by every node once it has joined the group. The
// nodes joining later get it through the replay.
type helloMessage struct {
	clustering.Header
	NodeName string
	Domain   string

	logger log.Logger
}

func (m *helloMessage) Kind() string {
	return helloKind
}

func (m *helloMessage) Execute() error {
	level.Info(m.logger).Log(
		"msg", "hello from a cluster member",
		"node", m.NodeName,
		"domain", m.Domain,
		"sent_at", m.Timestamp(),
	)

	return nil
}

func newRegistry(logger log.Logger) *clustering.Registry {
	registry := clustering.NewRegistry()

	registry.Register(helloKind, func() clustering.Message {
		return &helloMessage{logger: logger}
	})

	return registry
}

// memberLogger writes the membership changes to the log.
type memberLogger struct {
	logger log.Logger
}

func (l *memberLogger) MemberAdded(e membership.Event) {
	m := e.Member()
	level.Info(l.logger).Log("msg", "member joined", "member_id", m.ID, "host", m.HostName, "port", m.Port)
}

func (l *memberLogger) MemberRemoved(e membership.Event) {
	level.Info(l.logger).Log("msg", "member left", "member_id", e.Member().ID)
}
