package conduit

import (
	"github.com/tenzoki/conduit/config"
	"github.com/tenzoki/conduit/transport"
)

// OptionsFromFile loads a YAML peer configuration and turns it into the
// Option values New expects, along with the paho transport it describes.
// Kept in the root package rather than config/ to avoid config importing
// conduit just for this one adapter.
func OptionsFromFile(path string) ([]Option, transport.Transport, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	opts := []Option{
		WithCodec(c.Codec),
		WithTimeout(c.Timeout),
		WithChunkSize(c.ChunkSize),
	}
	if c.ID != "" {
		opts = append(opts, WithID(c.ID))
	}

	var tr transport.Transport
	if c.Broker.URL != "" {
		clientID := c.Broker.ClientID
		if clientID == "" {
			clientID = c.ID
		}
		tr = transport.NewPaho(c.Broker.URL, clientID)
		opts = append(opts, WithTransport(tr))
	}

	return opts, tr, nil
}
