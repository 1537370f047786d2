package api

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipforge/capture/internal/bridge"
	"github.com/clipforge/capture/internal/config"
	"github.com/clipforge/capture/internal/recorder"
	"github.com/clipforge/capture/internal/region"
	"github.com/clipforge/capture/internal/timeline"
)

type staticBridge struct{}

func (staticBridge) Sources(ctx context.Context) ([]bridge.Source, error) {
	return []bridge.Source{
		{ID: "screen-1", Name: "Screen 1", Kind: bridge.SourceScreen, DisplayID: "d1"},
		{ID: "win-1", Name: "Editor", Kind: bridge.SourceWindow},
	}, nil
}

func (staticBridge) Displays(ctx context.Context) ([]bridge.Display, error) {
	return []bridge.Display{
		{ID: "d1", Bounds: image.Rect(0, 0, 1920, 1080), ScaleFactor: 1},
	}, nil
}

func (staticBridge) AcquireDisplayStream(ctx context.Context, sourceID string) (bridge.DisplayStream, error) {
	return nil, context.Canceled
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	sink := timeline.NewMemorySink(16)
	sink.Emit(timeline.Event{Type: "session-start", Origin: "test", At: time.Now(), Seq: 1})

	b := staticBridge{}
	ctl := recorder.New(region.NewManager(b), recorder.Options{Sink: sink})
	srv := httptest.NewServer(NewServer(ctl, sink, cfgMgr, b).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var snap recorder.Snapshot
	getJSON(t, srv.URL+"/api/session", &snap)
	if snap.State != recorder.StateIdle {
		t.Errorf("state = %q, want idle", snap.State)
	}
}

func TestSourcesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var sources []bridge.Source
	getJSON(t, srv.URL+"/api/sources", &sources)
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	if sources[0].Kind != bridge.SourceScreen {
		t.Errorf("first source kind = %q, want screen", sources[0].Kind)
	}
}

func TestTimelineEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var events []timeline.Event
	getJSON(t, srv.URL+"/api/timeline", &events)
	if len(events) != 1 || events[0].Type != "session-start" {
		t.Fatalf("unexpected timeline contents: %+v", events)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	getJSON(t, srv.URL+"/api/health", &health)
	if health["status"] != "ok" {
		t.Errorf("health status = %q, want ok", health["status"])
	}
}
