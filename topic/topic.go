// Package topic maps conduit's logical (name, operation, peerId) triples to
// MQTT topic strings and back. The mapping is pluggable per spec §4.3: a
// Peer may be constructed with custom MakeFunc/MatchFunc to fit an existing
// broker's topic conventions, but defaults to the "/"-joined scheme below.
package topic

import "strings"

// anyPeer is the wildcard segment used in place of a peer ID when a message
// is not addressed to a specific peer (broadcast events, service requests
// any registered handler may answer).
const anyPeer = "any"

// MakeFunc builds the wire topic for a logical operation. peerID may be
// empty, meaning "not addressed to a specific peer".
type MakeFunc func(name, operation, peerID string) string

// MatchFunc is the inverse of MakeFunc: given a topic a message arrived on,
// it recovers the logical (name, operation, peerID) triple. ok is false if
// topic does not fit the expected shape.
type MatchFunc func(topic string) (name, operation, peerID string, ok bool)

// Make is the default MakeFunc: "${name}/${operation}/${peerId-or-any}".
func Make(name, operation, peerID string) string {
	if peerID == "" {
		peerID = anyPeer
	}
	return strings.Join([]string{name, operation, peerID}, "/")
}

// Match is the default MatchFunc, the inverse of Make. Since name may
// itself contain "/" (conduit's own naming convention nests names like
// "example/server/connection"), the last two segments are peeled off as
// operation and peerID and everything before them is rejoined as name. A
// peerID of "any" is reported back as "" to the caller.
func Match(t string) (name, operation, peerID string, ok bool) {
	lastSlash := strings.LastIndex(t, "/")
	if lastSlash < 0 {
		return "", "", "", false
	}
	peerID = t[lastSlash+1:]
	rest := t[:lastSlash]

	secondSlash := strings.LastIndex(rest, "/")
	if secondSlash < 0 {
		return "", "", "", false
	}
	operation = rest[secondSlash+1:]
	name = rest[:secondSlash]

	if name == "" || operation == "" || peerID == "" {
		return "", "", "", false
	}
	if peerID == anyPeer {
		peerID = ""
	}
	return name, operation, peerID, true
}

// Subscription is the concrete MQTT topic filter derived from Make for the
// "any peer" case — used when subscribing to receive messages regardless of
// which peer a request is addressed to.
func Subscription(makeFn MakeFunc, name, operation string) string {
	return makeFn(name, operation, "")
}
