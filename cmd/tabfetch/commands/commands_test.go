package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

func TestVersionCommand_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version", "--json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var info map[string]any
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %q", buf.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("unexpected version info %v", info)
	}
}

func TestFetchCommand_DefaultURL(t *testing.T) {
	// A closed endpoint fails fast; the result still names the URL used.
	srv := httptest.NewServer(http.NotFoundHandler())
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	srv.Close()

	t.Setenv("TABFETCH_FETCH_DEFAULT_URL", "https://default.example/")
	out := filepath.Join(t.TempDir(), "result.json")
	rootCmd.SetArgs([]string{"fetch", "--host", host, "--port", port, "--stealth=false", "--quiet", "-o", out})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = rootCmd.PersistentFlags().Set("output", "")
	})

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("fetch output is not a JSON object: %q", data)
	}
	if res["url"] != "https://default.example/" {
		t.Errorf("url = %v, want the default URL", res["url"])
	}
	if res["success"] != false || res["error_kind"] != string(fetcher.KindEndpointUnavailable) {
		t.Errorf("unexpected result %v", res)
	}
}

func TestAnyFailed(t *testing.T) {
	ok := &fetcher.Success{OriginalURL: "https://a.example"}
	bad := fetcher.NewFailure(fetcher.Request{URL: "https://b.example"}, errors.New("boom"))

	tests := []struct {
		name    string
		results []fetcher.Result
		want    bool
	}{
		{"empty", nil, false},
		{"all_ok", []fetcher.Result{ok, ok}, false},
		{"one_failed", []fetcher.Result{ok, bad}, true},
	}
	for _, tt := range tests {
		if got := anyFailed(tt.results); got != tt.want {
			t.Errorf("%s: anyFailed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
