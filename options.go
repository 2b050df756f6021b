package conduit

import (
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/tenzoki/conduit/topic"
	"github.com/tenzoki/conduit/transport"
	"github.com/tenzoki/conduit/wire"
)

const (
	defaultTimeoutMillis  = 10000
	defaultChunkSizeBytes = 16384
)

// config holds a Peer's resolved construction parameters, per spec §6's
// configuration table.
type config struct {
	id            string
	codec         wire.Codec
	timeoutMillis int
	chunkSize     int
	topicMake     topic.MakeFunc
	topicMatch    topic.MatchFunc
	transport     transport.Transport
	logger        *log.Logger
}

func defaultConfig() *config {
	return &config{
		id:            shortID(),
		codec:         wire.CBOR{},
		timeoutMillis: defaultTimeoutMillis,
		chunkSize:     defaultChunkSizeBytes,
		topicMake:     topic.Make,
		topicMatch:    topic.Match,
		logger:        log.Default(),
	}
}

// shortID generates a collision-resistant-within-a-session opaque peer id.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Option configures a Peer at construction time.
type Option func(*config)

// WithID fixes this peer's id segment in directed topics, overriding the
// random default.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

// WithCodec selects the wire codec by name ("cbor" or "json").
func WithCodec(name string) Option {
	return func(c *config) {
		codec, err := wire.ByName(name)
		if err != nil {
			panic(err)
		}
		c.codec = codec
	}
}

// WithTimeout sets the deadline, in milliseconds, for calls, fetches, and
// push-stream idleness.
func WithTimeout(millis int) Option {
	return func(c *config) { c.timeoutMillis = millis }
}

// WithChunkSize sets the maximum payload bytes carried per chunk envelope.
func WithChunkSize(bytes int) Option {
	return func(c *config) { c.chunkSize = bytes }
}

// WithTopicScheme replaces the default topic-building and topic-parsing
// functions. The core never parses topic strings directly; both halves of
// the scheme must be supplied together.
func WithTopicScheme(make topic.MakeFunc, match topic.MatchFunc) Option {
	return func(c *config) {
		c.topicMake = make
		c.topicMatch = match
	}
}

// WithTransport attaches the MQTT transport this peer drives. Omitting it
// produces a dry-run-only peer per spec §3 ("a peer may be constructed
// with a null transport solely to produce dry-run publish tuples").
func WithTransport(t transport.Transport) Option {
	return func(c *config) { c.transport = t }
}

// WithLogger replaces the logger the dispatcher falls back to for
// dispatcher-local failures (decode, parse, and topic-match errors) when
// no OnError callback has been installed. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}
