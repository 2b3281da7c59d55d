package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/hub"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/message"
	"github.com/srg/shotbridge/internal/registry"
	"github.com/srg/shotbridge/internal/session"
	"github.com/srg/shotbridge/internal/store"
	"github.com/srg/shotbridge/internal/testutils"
	"github.com/srg/shotbridge/internal/title"
	"github.com/stretchr/testify/suite"
)

var (
	payloadStart = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x2A}
	payloadShot1 = []byte{0x00, 0x04, 0x00, 0x00, 0x01, 0xF4}
	payloadShot2 = []byte{0x00, 0x04, 0x00, 0x01, 0x03, 0x20}
	payloadStop  = []byte{0x00, 0x03}
)

type ServerTestSuite struct {
	testutils.FakeTransportSuite

	dataDir  string
	store    *store.Store
	ledger   *ledger.Ledger
	title    *title.Store
	hub      *hub.Hub
	registry *registry.Registry
	http     *httptest.Server
}

func (s *ServerTestSuite) SetupTest() {
	s.FakeTransportSuite.SetupTest()

	dir := s.T().TempDir()
	s.dataDir = filepath.Join(dir, "data")

	var err error
	s.store, err = store.New(s.dataDir, filepath.Join(dir, "archive"), s.Logger)
	s.Require().NoError(err, "store MUST initialize")

	s.ledger = ledger.New(s.store, s.Logger)
	s.title = title.NewStore(filepath.Join(dir, "title.txt"), "", s.Logger)
	s.hub = hub.New(s.ledger, s.title.Get, s.Logger)
	s.title.OnChange(func(t string) { s.hub.Publish(message.TitleUpdate{Title: t}) })

	s.registry = registry.New(s.Transport, s.hub, s.ledger, registry.Options{
		NamePrefix:  "SG-SST",
		ScanTimeout: time.Second,
		Session: session.Options{
			EventUUID:        testutils.EventUUID,
			APIVersionUUID:   testutils.APIVersionUUID,
			WatchdogInterval: time.Hour,
		},
	}, s.Logger)

	srv := New(Options{
		ClientQueue: 16,
		Now:         func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	}, Deps{
		Registry: s.registry,
		Store:    s.store,
		Ledger:   s.ledger,
		Title:    s.title,
		Hub:      s.hub,
	}, s.Logger)
	s.http = httptest.NewServer(srv.Handler())
}

func (s *ServerTestSuite) TearDownTest() {
	s.hub.Close()
	s.http.Close()
	s.registry.Close()
	s.ledger.Close()
}

func (s *ServerTestSuite) do(method, path string, body any) (int, []byte) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.http.URL+path, rdr)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Client().Do(req)
	s.Require().NoError(err, "%s %s MUST reach the server", method, path)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, data
}

func (s *ServerTestSuite) assertJSON(data []byte, expected string) {
	testutils.NewJSONAsserter(s.T()).Assert(string(data), expected)
}

// connectTimer connects the default timer over HTTP and returns its link.
func (s *ServerTestSuite) connectTimer() *testutils.FakeLink {
	code, body := s.do(http.MethodPost, "/connect", map[string]string{"address": testutils.TimerAddress})
	s.Require().Equal(http.StatusOK, code, "connect MUST succeed: %s", body)
	link := s.Transport.LastLink(testutils.TimerAddress)
	s.Require().NotNil(link)
	return link
}

func (s *ServerTestSuite) notify(link *testutils.FakeLink, payloads ...[]byte) {
	for _, p := range payloads {
		s.Require().NoError(link.Notify(testutils.EventUUID, p))
	}
}

// runSession plays a complete two-shot session and waits for it to be finalized.
func (s *ServerTestSuite) runSession(link *testutils.FakeLink) {
	s.notify(link, payloadStart, payloadShot1, payloadShot2, payloadStop)
	s.Require().Eventually(func() bool {
		snap := s.ledger.SnapshotForSync()
		return snap != nil && snap.Status == ledger.StatusStopped
	}, s.TestTimeout, 5*time.Millisecond, "session MUST be stopped")
}

func (s *ServerTestSuite) TestCORSPreflight() {
	req, err := http.NewRequest(http.MethodOptions, s.http.URL+"/status", nil)
	s.Require().NoError(err)
	resp, err := s.http.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (s *ServerTestSuite) TestDevices() {
	code, body := s.do(http.MethodGet, "/devices", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"devices":[{"name":"SG-SST-A1234","address":"AA:BB:CC:DD:EE:01","model":"SG Timer Sport"}]}`)
}

func (s *ServerTestSuite) TestDevicesScanFailure() {
	s.Transport.SetScanError(errors.New("adapter gone"))

	code, body := s.do(http.MethodGet, "/devices", nil)
	s.Equal(http.StatusInternalServerError, code)
	s.assertJSON(body, `{"detail":"BLE scan failed: adapter gone"}`)
}

func (s *ServerTestSuite) TestConnectAndStatus() {
	code, body := s.do(http.MethodPost, "/connect", map[string]string{
		"address": testutils.TimerAddress,
		"name":    testutils.TimerName,
	})
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{
		"status": "connected",
		"address": "AA:BB:CC:DD:EE:01",
		"name": "SG-SST-A1234",
		"model": "SG Timer Sport",
		"api_version": "1.2"
	}`)

	code, body = s.do(http.MethodGet, "/status", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{
		"connected": true,
		"devices": [{"address":"AA:BB:CC:DD:EE:01","connected":true,"state":"connected","api_version":"1.2"}]
	}`)
}

func (s *ServerTestSuite) TestConnectValidation() {
	code, body := s.do(http.MethodPost, "/connect", map[string]string{"address": "  "})
	s.Equal(http.StatusBadRequest, code)
	s.assertJSON(body, `{"detail":"Missing address"}`)

	req, err := http.NewRequest(http.MethodPost, s.http.URL+"/connect", strings.NewReader("{"))
	s.Require().NoError(err)
	resp, err := s.http.Client().Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode, "malformed JSON MUST be rejected")
}

func (s *ServerTestSuite) TestConnectFailure() {
	s.Transport.SetConnectError(testutils.TimerAddress, device.ErrTimeout)

	code, body := s.do(http.MethodPost, "/connect", map[string]string{"address": testutils.TimerAddress})
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"status":"failed","address":"AA:BB:CC:DD:EE:01","detail":"<<PRESENCE>>"}`)

	_, body = s.do(http.MethodGet, "/status", nil)
	s.assertJSON(body, `{"connected": false}`)
}

func (s *ServerTestSuite) TestDisconnect() {
	code, body := s.do(http.MethodPost, "/disconnect", map[string]string{"address": "11:11:11:11:11:11"})
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"status":"not connected"}`)

	s.connectTimer()
	code, body = s.do(http.MethodPost, "/disconnect", map[string]string{"address": testutils.TimerAddress})
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"status":"disconnected","address":"AA:BB:CC:DD:EE:01"}`)

	_, body = s.do(http.MethodPost, "/disconnect", map[string]string{})
	s.assertJSON(body, `{"detail":"Missing address"}`)
}

func (s *ServerTestSuite) TestTitle() {
	code, body := s.do(http.MethodGet, "/get_title", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"title":"SG Timer"}`)

	code, body = s.do(http.MethodPost, "/set_title", map[string]string{"title": "  Club Night  "})
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"title":"Club Night"}`)

	_, body = s.do(http.MethodGet, "/get_title", nil)
	s.assertJSON(body, `{"title":"Club Night"}`)

	code, body = s.do(http.MethodPost, "/set_title", map[string]string{"title": " "})
	s.Equal(http.StatusBadRequest, code)
	s.assertJSON(body, `{"detail":"Missing title"}`)
}

func (s *ServerTestSuite) TestSessionsAndDownload() {
	// GOAL: A finished session is listed with its statistics and downloadable as CSV
	//
	// TEST SCENARIO: start 42, shots at 0.5s and 0.8s, stop → listed with 2 shots → CSV served

	s.runSession(s.connectTimer())

	code, body := s.do(http.MethodGet, "/sessions", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{
		"sessions": [{"sess_id":"42","total_shots":2,"total_time":0.8,"file":"42.csv"}],
		"offset": 0,
		"limit": 20
	}`)

	resp, err := s.http.Client().Get(s.http.URL + "/download/42.csv")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("text/csv", resp.Header.Get("Content-Type"))
	s.Contains(resp.Header.Get("Content-Disposition"), `attachment; filename="42.csv"`)

	csv, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	s.Equal("event,shot_num,shot_time,split,ts_device", lines[0], "CSV MUST start with the header")
	s.Len(lines, 5, "header, start, two shots and stop MUST be recorded")
}

func (s *ServerTestSuite) TestSessionsValidation() {
	code, body := s.do(http.MethodGet, "/sessions?offset=abc", nil)
	s.Equal(http.StatusBadRequest, code)
	s.assertJSON(body, `{"detail":"offset must be an integer"}`)

	code, _ = s.do(http.MethodGet, "/sessions?limit=-1", nil)
	s.Equal(http.StatusBadRequest, code)

	code, body = s.do(http.MethodGet, "/sessions?offset=5&limit=2", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"sessions":[],"offset":5,"limit":2}`)
}

func (s *ServerTestSuite) TestDownloadMissing() {
	code, body := s.do(http.MethodGet, "/download/999", nil)
	s.Equal(http.StatusNotFound, code)
	s.assertJSON(body, `{"detail":"Session not found"}`)
}

func (s *ServerTestSuite) TestClearSessions() {
	// GOAL: Archiving moves finished records away and forgets the last snapshot
	//
	// TEST SCENARIO: one finished session → clear → archived 1 → list empty → no snapshot left

	s.runSession(s.connectTimer())

	code, body := s.do(http.MethodPost, "/clear_sessions", nil)
	s.Equal(http.StatusOK, code)
	s.assertJSON(body, `{"status":"ok","archived":1}`)

	var res clearResponse
	s.Require().NoError(json.Unmarshal(body, &res))
	s.Equal("2024-05-01_09-30", filepath.Base(res.Dir), "archive directory MUST be named after the clock")

	_, body = s.do(http.MethodGet, "/sessions", nil)
	s.assertJSON(body, `{"sessions":[]}`)
	s.Nil(s.ledger.SnapshotForSync(), "last completed session MUST be cleared")
}

// dialWS opens a push channel against the test server.
func (s *ServerTestSuite) dialWS() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err, "WebSocket dial MUST succeed")
	resp.Body.Close()
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *ServerTestSuite) readMessage(conn *websocket.Conn) message.Message {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(s.TestTimeout)))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err, "push message MUST arrive")
	msg, err := message.Decode(data)
	s.Require().NoError(err)
	return msg
}

func (s *ServerTestSuite) TestWebSocketLateJoiner() {
	// GOAL: A subscriber joining mid-session is synchronized before live events
	//
	// TEST SCENARIO: session 42 with one shot → join → TITLE_UPDATE, SESSION_SYNC(1 shot) → next shot arrives live

	link := s.connectTimer()
	s.notify(link, payloadStart, payloadShot1)
	s.Require().Eventually(func() bool {
		snap := s.ledger.SnapshotForSync()
		return snap != nil && len(snap.Shots) == 1
	}, s.TestTimeout, 5*time.Millisecond)

	conn := s.dialWS()

	first := s.readMessage(conn)
	s.Equal(message.TypeTitleUpdate, first.Type(), "title MUST be sent first")
	s.Equal("SG Timer", first.(message.TitleUpdate).Title)

	second := s.readMessage(conn)
	s.Require().Equal(message.TypeSessionSync, second.Type(), "sync MUST follow the title")
	state := second.(message.SessionSync).State
	s.Require().NotNil(state)
	s.Equal(uint32(42), state.SessID)
	s.Len(state.Shots, 1)

	s.Require().Eventually(func() bool { return s.hub.Len() == 1 }, s.TestTimeout, 5*time.Millisecond)
	s.notify(link, payloadShot2)

	live := s.readMessage(conn)
	s.Require().Equal(message.TypeShotDetected, live.Type())
	shot := live.(message.ShotDetected)
	s.Equal(2, shot.Num)
	s.Require().NotNil(shot.Split)
	s.InDelta(0.3, *shot.Split, 1e-9)
}

func (s *ServerTestSuite) TestWebSocketTitleBroadcast() {
	conn := s.dialWS()
	s.Equal(message.TypeTitleUpdate, s.readMessage(conn).Type())
	s.Require().Eventually(func() bool { return s.hub.Len() == 1 }, s.TestTimeout, 5*time.Millisecond)

	s.do(http.MethodPost, "/set_title", map[string]string{"title": "Finals"})

	msg := s.readMessage(conn)
	s.Require().Equal(message.TypeTitleUpdate, msg.Type())
	s.Equal("Finals", msg.(message.TitleUpdate).Title)
}

func (s *ServerTestSuite) TestWebSocketClientLeaves() {
	conn := s.dialWS()
	s.readMessage(conn)
	s.Require().Eventually(func() bool { return s.hub.Len() == 1 }, s.TestTimeout, 5*time.Millisecond)

	s.Require().NoError(conn.Close())
	s.Eventually(func() bool { return s.hub.Len() == 0 }, s.TestTimeout, 5*time.Millisecond,
		"closed client MUST be unsubscribed")
}

func (s *ServerTestSuite) TestStaticFiles() {
	dir := s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>timer</h1>"), 0o644))

	srv := New(Options{StaticDir: dir}, Deps{
		Registry: s.registry, Store: s.store, Ledger: s.ledger, Title: s.title, Hub: s.hub,
	}, s.Logger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "<h1>timer</h1>", "index MUST be served from the static directory")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_title", nil))
	s.Equal(http.StatusOK, rec.Code, "API routes MUST take precedence over static files")
	s.assertJSON(rec.Body.Bytes(), `{"title":"SG Timer"}`)
}

func (s *ServerTestSuite) TestServeShutsDownOnCancel() {
	srv := New(Options{Addr: "127.0.0.1:0"}, Deps{
		Registry: s.registry, Store: s.store, Ledger: s.ledger, Title: s.title, Hub: s.hub,
	}, s.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		s.NoError(err, "graceful shutdown MUST not report an error")
	case <-time.After(s.TestTimeout):
		s.Fail("Run MUST return after cancellation")
	}
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
