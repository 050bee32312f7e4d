// Package peers implements the Peer Directory described in section 4.2 of
// the design specification. It exposes the sorted list of cluster peer
// identifiers and the local peer's identifier; the sort order is the sole
// mechanism by which peers agree on plan assignment (section 3), so it must
// be identical on every peer.
package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
)

// HTTPDoer is the external collaborator interface for the cluster-manager
// HTTP client named in section 6's "Peer directory protocol". Out of scope
// per section 1; only its narrow contract lives here.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// peerEntry mirrors one element of the "entry" array returned by
// /services/cluster/master/peers, per section 6.
type peerEntry struct {
	Name string `json:"name"`
}

type peersResponse struct {
	Entry []peerEntry `json:"entry"`
}

// Directory answers the two questions the Bucketeer needs, per section 4.2:
// which peer is this one, and what is the agreed sorted peer order.
type Directory struct {
	standalone       bool
	localID          string
	clusterMasterURI string
	port             int
	username         string
	password         string
	client           HTTPDoer
	log              zerolog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithHTTPClient overrides the HTTP collaborator used for the cluster
// manager call; defaults to http.DefaultClient.
func WithHTTPClient(c HTTPDoer) Option {
	return func(d *Directory) { d.client = c }
}

// NewStandalone returns a Directory for a non-clustered deployment. Per
// section 4.2, "On a standalone deployment the directory returns a
// single-element sequence equal to local_id()."
func NewStandalone(localID string, log zerolog.Logger) *Directory {
	return &Directory{standalone: true, localID: localID, log: log}
}

// NewClustered returns a Directory backed by the Splunk cluster manager's
// peers endpoint, per section 6's peer directory protocol.
func NewClustered(localID, clusterMasterURI string, port int, username, password string, log zerolog.Logger, opts ...Option) *Directory {
	d := &Directory{
		localID:          localID,
		clusterMasterURI: clusterMasterURI,
		port:             port,
		username:         username,
		password:         password,
		client:           http.DefaultClient,
		log:              log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LocalID returns this peer's stable cluster-unique identifier, per
// section 4.2.
func (d *Directory) LocalID() string {
	return d.localID
}

// PeerIDs returns the lexicographically sorted sequence of all cluster peer
// identifiers, per section 4.2. On a standalone deployment it returns
// []string{LocalID()}.
func (d *Directory) PeerIDs(ctx context.Context) ([]string, error) {
	if d.standalone {
		return []string{d.localID}, nil
	}

	target := fmt.Sprintf("https://%s:%d/services/cluster/master/peers", d.clusterMasterURI, d.port)
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid cluster master URI: %w", err)
	}
	q := u.Query()
	q.Set("output_mode", "json")
	q.Set("count", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build peers request: %w", err)
	}
	req.SetBasicAuth(d.username, d.password)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cluster manager unreachable at %s: %w", d.clusterMasterURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cluster manager returned status %s for %s", resp.Status, u.Redacted())
	}

	var parsed peersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode peers response: %w", err)
	}

	ids := make([]string, 0, len(parsed.Entry))
	for _, e := range parsed.Entry {
		ids = append(ids, e.Name)
	}
	sort.Strings(ids)

	d.log.Info().Int("peer_count", len(ids)).Msg("resolved cluster peer identifiers")
	for _, id := range ids {
		d.log.Debug().Str("peer_id", id).Msg("peer in sorted order")
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("cluster manager returned an empty peer list")
	}

	return ids, nil
}

// ParsePort parses a port number string, returning def on a blank input.
// splitHostPort uses it for the port part of a master_uri/manager_uri value.
func ParsePort(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
