package filterset

import "testing"

func TestFilter_PrecedenceExample(t *testing.T) {
	f := Filter{
		Search: List{Entries: []string{"foo"}, Mode: Substring},
		Ignore: List{Entries: []string{"foo-bar"}, Mode: Substring},
	}

	cases := map[string]bool{
		"foo":         true,
		"foo-baz":     true,
		"foo-bar":     false,
		"foo-bar-baz": false,
		"bar":         false,
	}
	for candidate, want := range cases {
		if got := f.Allow(candidate); got != want {
			t.Errorf("Allow(%q) = %v, want %v", candidate, got, want)
		}
	}
}

func TestFilter_EmptyListsAllowEverything(t *testing.T) {
	f := Filter{}
	if !f.Allow("anything") {
		t.Fatalf("expected empty filter to allow everything")
	}
}

func TestFilter_ExactMode(t *testing.T) {
	f := Filter{Search: List{Entries: []string{"foo"}, Mode: Exact}}
	if f.Allow("foobar") {
		t.Fatalf("exact mode should not match substrings")
	}
	if !f.Allow("foo") {
		t.Fatalf("exact mode should match identical strings")
	}
}
