package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"DeckPilot/config"
	"DeckPilot/core/auth"
	"DeckPilot/core/device"
	"DeckPilot/core/device/devicetest"
	"DeckPilot/core/matcher"
	"DeckPilot/core/navigation"
	"DeckPilot/core/orchestrator"
	"DeckPilot/core/safety"
	"DeckPilot/core/timing"
	"DeckPilot/model"
	"DeckPilot/repository"
	"DeckPilot/storage"

	"github.com/gorilla/websocket"
)

type fakeReports struct {
	objects []storage.ObjectInfo
	reports map[string]model.SessionReport
}

func (f fakeReports) ListReports(context.Context, string) ([]storage.ObjectInfo, error) {
	return f.objects, nil
}

func (f fakeReports) GetReport(_ context.Context, name string) (*model.SessionReport, error) {
	r, ok := f.reports[name]
	if !ok {
		return nil, storage.ErrReportNotFound
	}
	return &r, nil
}

type fixture struct {
	handler *APIHandler
	router  http.Handler
	hub     *StatusHub
	manager *orchestrator.Manager
}

func newFixture(t *testing.T, secret string, reports ReportLister) *fixture {
	t.Helper()
	tracks := make([]model.Track, 0, 6)
	keys := []string{"8A", "9A", "8B", "7A", "8A", "3B"}
	for i := 0; i < 6; i++ {
		tracks = append(tracks, model.Track{
			Title:             "Track " + string(rune('A'+i)),
			Tempo:             124 + float64(i),
			Key:               keys[i],
			HierarchyPosition: i,
			DurationSec:       120,
		})
	}
	store := repository.NewMemoryTrackRepository(tracks)

	browser := devicetest.NewBrowser(len(tracks), nil)
	controls := device.DefaultControlMap()
	link := device.NewLink(devicetest.NewMixer(controls, browser), controls)
	t.Cleanup(func() { link.Close() })
	clock := timing.NewManualClock(time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC))
	nav := navigation.New(link, clock, navigation.Config{GroundMoves: 20, CollapsePasses: 1}, navigation.WithProbe(browser))
	m := matcher.New(store, matcher.Defaults{Tempo: 124, Key: "8A"})

	manager := orchestrator.NewManager(orchestrator.Config{CrossfadeSteps: 4}, orchestrator.Deps{
		Navigator: nav,
		Link:      link,
		Gate:      safety.New(link),
		Selector:  orchestrator.NewSelector(m, 6, 2),
		Clock:     clock,
	}, store)

	hub := NewStatusHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	cfg := &config.Config{APISecret: secret}
	h := NewAPIHandler(cfg, manager, store, m, reports, hub)
	return &fixture{handler: h, router: NewRouter(h), hub: hub, manager: manager}
}

func (f *fixture) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, "booth-secret", nil)
	valid, err := auth.GenerateToken("booth-secret", "resident", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := auth.GenerateToken("elsewhere", "resident", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"forged", forged, http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodGet, "/api/session", "", tt.token); rec.Code != tt.want {
				t.Errorf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if rec := f.do(t, http.MethodGet, "/api/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health behind auth: %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/tracks", nil)
	req.Header.Set("Authorization", "Token "+valid)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme accepted: %d", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	f := newFixture(t, "booth-secret", nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no operator", `{"secret":"booth-secret"}`, http.StatusBadRequest},
		{"wrong secret", `{"operator":"resident","secret":"guess"}`, http.StatusUnauthorized},
		{"ok", `{"operator":"resident","secret":"booth-secret"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/login", tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp struct {
				Token    string `json:"token"`
				Operator string `json:"operator"`
			}
			decode(t, rec, &resp)
			if resp.Operator != "resident" {
				t.Errorf("operator %q", resp.Operator)
			}
			if rec := f.do(t, http.MethodGet, "/api/tracks", "", resp.Token); rec.Code != http.StatusOK {
				t.Errorf("issued token rejected: %d", rec.Code)
			}
		})
	}

	open := newFixture(t, "", nil)
	if rec := open.do(t, http.MethodPost, "/api/login", `{"operator":"x","secret":"y"}`, ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("login without secret: %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, "", nil)

	var idle model.SessionSnapshot
	decode(t, f.do(t, http.MethodGet, "/api/session", "", ""), &idle)
	if idle.Running || idle.Session.Phase != model.PhaseIdle {
		t.Fatalf("initial status %+v", idle)
	}

	if rec := f.do(t, http.MethodPost, "/api/session", `{"maxTracks":-2}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative maxTracks: %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/session", `{"maxTracks":0}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	var handle orchestrator.SessionHandle
	decode(t, rec, &handle)
	if handle.ID == "" {
		t.Fatal("no session id")
	}

	if rec := f.do(t, http.MethodPost, "/api/session", "", ""); rec.Code != http.StatusConflict {
		t.Errorf("second start: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/session/load", `{"deck":"B","trackId":1}`, ""); rec.Code != http.StatusConflict {
		t.Errorf("load during session: %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/session", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body.String())
	}
	var stopped struct {
		ID     string                `json:"id"`
		Error  string                `json:"error"`
		Status model.SessionSnapshot `json:"status"`
	}
	decode(t, rec, &stopped)
	if stopped.ID != handle.ID || stopped.Error != "" || stopped.Status.Running {
		t.Errorf("stop response %+v", stopped)
	}

	if rec := f.do(t, http.MethodDelete, "/api/session", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("stop without session: %d", rec.Code)
	}
}

func TestLoadNowHandler(t *testing.T) {
	f := newFixture(t, "", nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad deck", `{"deck":"C","trackId":1}`, http.StatusBadRequest},
		{"no track", `{"deck":"A"}`, http.StatusBadRequest},
		{"unknown track", `{"deck":"A","trackId":99}`, http.StatusNotFound},
		{"ok", `{"deck":"b","trackId":3}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/session/load", tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var d model.DeckState
			decode(t, rec, &d)
			if d.ID != model.DeckB || d.LoadedTrack == nil || d.LoadedTrack.ID != 3 || d.Volume != 0 {
				t.Errorf("deck after load %+v", d)
			}
		})
	}
}

func TestTracksAndMatch(t *testing.T) {
	f := newFixture(t, "", nil)

	var tracks []model.Track
	decode(t, f.do(t, http.MethodGet, "/api/tracks", "", ""), &tracks)
	if len(tracks) != 6 {
		t.Fatalf("%d tracks listed", len(tracks))
	}

	rec := f.do(t, http.MethodGet, "/api/tracks/match?tempo=126&key=8A", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("match: %d %s", rec.Code, rec.Body.String())
	}
	var matches []matchResponse
	decode(t, rec, &matches)
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	for _, m := range matches {
		if m.Distance > 1 {
			t.Errorf("track %d at harmonic distance %d", m.Track.ID, m.Distance)
		}
	}

	decode(t, f.do(t, http.MethodGet, "/api/tracks/match?trackId=1", "", ""), &matches)
	for _, m := range matches {
		if m.Track.ID == 1 {
			t.Error("reference track matched itself")
		}
	}

	for _, target := range []string{
		"/api/tracks/match",
		"/api/tracks/match?tempo=126&key=H",
		"/api/tracks/match?tempo=126&key=8A&tolerance=x",
		"/api/tracks/match?trackId=abc",
	} {
		if rec := f.do(t, http.MethodGet, target, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: %d", target, rec.Code)
		}
	}
	if rec := f.do(t, http.MethodGet, "/api/tracks/match?trackId=42", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown reference: %d", rec.Code)
	}
}

func TestReportsHandler(t *testing.T) {
	if rec := newFixture(t, "", nil).do(t, http.MethodGet, "/api/reports", "", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("without archive: %d", rec.Code)
	}
	const key = "reports/2024/06/01/x-220000.json"
	f := newFixture(t, "", fakeReports{
		objects: []storage.ObjectInfo{{Key: key, Size: 812}},
		reports: map[string]model.SessionReport{key: {SessionID: "x", Error: "device unavailable", Fatal: true}},
	})
	var objects []storage.ObjectInfo
	decode(t, f.do(t, http.MethodGet, "/api/reports?day=2024/06/01", "", ""), &objects)
	if len(objects) != 1 || objects[0].Size != 812 {
		t.Errorf("objects = %+v", objects)
	}

	rec := f.do(t, http.MethodGet, "/api/reports/"+key, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get report: %d %s", rec.Code, rec.Body.String())
	}
	var report model.SessionReport
	decode(t, rec, &report)
	if report.SessionID != "x" || !report.Fatal {
		t.Errorf("report %+v", report)
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/reports/reports/2024/06/02/missing.json", http.StatusNotFound},
		{"/api/reports/reports/2024/06/01/x-220000.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, http.MethodGet, tt.target, "", ""); rec.Code != tt.want {
			t.Errorf("%s: %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestStatusStream(t *testing.T) {
	f := newFixture(t, "", nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	f.hub.Publish(model.SessionSnapshot{Running: true, Session: model.SessionState{ID: "s-1", Phase: model.PhaseMixing}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MsgTypeStatus {
		t.Fatalf("message type %q", msg.Type)
	}
	var snap model.SessionSnapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Session.ID != "s-1" || snap.Session.Phase != model.PhaseMixing {
		t.Errorf("snapshot %+v", snap.Session)
	}

	if err := conn.WriteJSON(WSMessage{Type: MsgTypePing}); err != nil {
		t.Fatal(err)
	}
	// A queued broadcast of the same snapshot may arrive first.
	for msg.Type != MsgTypePong {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read pong: %v", err)
		}
	}
}
