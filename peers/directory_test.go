package peers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeDoer struct {
	resp *http.Response
	err  error
}

func (f fakeDoer) Do(*http.Request) (*http.Response, error) {
	return f.resp, f.err
}

func jsonResponse(body string, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDirectory_Standalone(t *testing.T) {
	d := NewStandalone("local-peer", zerolog.Nop())
	ids, err := d.PeerIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "local-peer" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if d.LocalID() != "local-peer" {
		t.Fatalf("unexpected local id: %q", d.LocalID())
	}
}

func TestDirectory_Clustered_SortsPeers(t *testing.T) {
	body := `{"entry":[{"name":"guid-c"},{"name":"guid-a"},{"name":"guid-b"}]}`
	d := NewClustered("guid-a", "cm.example.com", 8089, "admin", "secret", zerolog.Nop(),
		WithHTTPClient(fakeDoer{resp: jsonResponse(body, http.StatusOK)}))

	ids, err := d.PeerIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"guid-a", "guid-b", "guid-c"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("unexpected sort order: %v", ids)
		}
	}
}

func TestDirectory_Clustered_EmptyListIsFatal(t *testing.T) {
	d := NewClustered("guid-a", "cm.example.com", 8089, "admin", "secret", zerolog.Nop(),
		WithHTTPClient(fakeDoer{resp: jsonResponse(`{"entry":[]}`, http.StatusOK)}))

	if _, err := d.PeerIDs(context.Background()); err == nil {
		t.Fatalf("expected error on empty peer list")
	}
}

func TestDirectory_Clustered_UnreachableIsFatal(t *testing.T) {
	d := NewClustered("guid-a", "cm.example.com", 8089, "admin", "secret", zerolog.Nop(),
		WithHTTPClient(fakeDoer{err: io.ErrClosedPipe}))

	if _, err := d.PeerIDs(context.Background()); err == nil {
		t.Fatalf("expected error when cluster manager is unreachable")
	}
}

func TestParsePort(t *testing.T) {
	if p, err := ParsePort("", 8089); err != nil || p != 8089 {
		t.Fatalf("expected default port, got %d err=%v", p, err)
	}
	if p, err := ParsePort("9999", 8089); err != nil || p != 9999 {
		t.Fatalf("expected parsed port 9999, got %d err=%v", p, err)
	}
	if _, err := ParsePort("not-a-port", 8089); err == nil {
		t.Fatalf("expected error on invalid port string")
	}
}
