// internal/hub/groups.go
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"

	"pointaged/internal/protocol"
)

// dashboardGroup is the broadcast group every subscribed dashboard
// client joins.
const dashboardGroup = "dashboard"

// groups maps group names to their member clients. Agents join a
// group named after their identity, dashboards join dashboardGroup.
type groups struct {
	mu      sync.RWMutex
	members map[string]map[*client]struct{}
}

func newGroups() *groups {
	return &groups{
		members: make(map[string]map[*client]struct{}),
	}
}

// join adds a client to a group. Joining twice is a no-op.
func (g *groups) join(name string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[name]
	if !ok {
		set = make(map[*client]struct{})
		g.members[name] = set
	}
	set[c] = struct{}{}
}

// leave removes a client from a group. Empty groups are deleted so the
// map does not grow with machine churn.
func (g *groups) leave(name string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.members[name]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(g.members, name)
	}
}

// leaveAll removes a client from every group it belongs to.
func (g *groups) leaveAll(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, set := range g.members {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(g.members, name)
			}
		}
	}
}

// count returns the number of members in a group.
func (g *groups) count(name string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members[name])
}

// publish marshals the message once and hands it to every member of
// the group. A group with no members is a successful no-op. Slow
// members whose buffers are full are skipped, not waited on.
func (g *groups) publish(name, msgType string, payload any) (int, error) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return 0, err
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return 0, err
	}

	g.mu.RLock()
	targets := make([]*client, 0, len(g.members[name]))
	for c := range g.members[name] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.safeSend(data) {
			delivered++
		} else {
			logrus.WithFields(logrus.Fields{
				"group": name,
				"type":  msgType,
				"conn":  c.connID,
			}).Warn("Dropping broadcast to slow or closed client")
		}
	}
	return delivered, nil
}
