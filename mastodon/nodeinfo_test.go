package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	var indexRequests int
	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/.well-known/nodeinfo", func(w http.ResponseWriter, _ *http.Request) {
		indexRequests++
		fmt.Fprintf(w, `{"links": [
			{"rel": "http://nodeinfo.diaspora.software/ns/schema/1.0", "href": "%s/nodeinfo/1.0"},
			{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.0", "href": "%s/nodeinfo/2.0"}
		]}`, baseURL, baseURL)
	})
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"software": {"name": "Pixelfed", "version": "0.12.5"}}`))
	})

	client, host := newTestClient(t, mux)
	baseURL = "https://" + host

	name, version := client.Classify(context.Background(), host)
	if name != "pixelfed" {
		t.Errorf("name = %q, want lowercased %q", name, "pixelfed")
	}
	if version != "0.12.5" {
		t.Errorf("version = %q, want %q", version, "0.12.5")
	}

	// Classification is cached per host for the rest of the run.
	client.Classify(context.Background(), host)
	if indexRequests != 1 {
		t.Errorf("index fetched %d times, want 1", indexRequests)
	}
}

func TestClassifyFailuresYieldUnknown(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"index unreachable", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed index", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"no 2.0 link", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"links": []}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, host := newTestClient(t, tt.handler)
			name, version := client.Classify(context.Background(), host)
			if name != "" || version != "" {
				t.Errorf("Classify() = (%q, %q), want empty on failure", name, version)
			}
		})
	}
}

func TestIncompatible(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"pixelfed", true},
		{"gotosocial", true},
		{"mammuthus (experimental)", true},
		{"mastodon", false},
		{"", false},
		{"some-new-fork", false},
	}
	for _, tt := range tests {
		if got := Incompatible(tt.name); got != tt.want {
			t.Errorf("Incompatible(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
