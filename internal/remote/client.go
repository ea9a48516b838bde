// Package remote provides the client for the hosted fleet service. The
// service owns persistence, auth, and querying; the agent treats it as an
// opaque collaborator with create/list/update/upload operations.
package remote

import (
	"context"
	"encoding/json"
	"net/url"
)

// Entity is one remote record as returned by the service. Data carries the
// full record JSON including server-assigned fields.
type Entity struct {
	ID   string
	Data json.RawMessage
}

// Client is the contract the sync core requires from the remote service.
// Implementations classify failures: transport problems carry
// NETWORK_ERROR (retry later), 4xx responses carry REMOTE_REJECTED
// (a human must intervene).
type Client interface {
	// Create creates a record of the given kind and returns the stored entity.
	Create(ctx context.Context, kind string, payload json.RawMessage) (*Entity, error)

	// List returns records of the given kind matching the query.
	List(ctx context.Context, kind string, query url.Values) ([]Entity, error)

	// Update applies a partial payload to an existing record.
	Update(ctx context.Context, kind, id string, partial json.RawMessage) (*Entity, error)

	// Upload stores a binary blob and returns its public URL.
	Upload(ctx context.Context, name string, data []byte) (string, error)

	// Ping checks service reachability. Used by the connectivity monitor.
	Ping(ctx context.Context) error
}
