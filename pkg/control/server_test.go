package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/live_publish/pkg/fanout"
	"github.com/arzzra/live_publish/pkg/publish"
	"github.com/arzzra/live_publish/pkg/sinks"
)

type mockPublisher struct {
	recordLocation string
	streamHost     string
	audioPort      int
	videoPort      int
	removed        []string
	refuse         bool
	recording      bool
	streaming      bool
}

func (m *mockPublisher) StartRecord(location string) bool {
	if m.refuse || m.recording {
		return false
	}
	m.recordLocation = location
	m.recording = true
	return true
}

func (m *mockPublisher) StopRecord() bool {
	was := m.recording
	m.recording = false
	return was
}

func (m *mockPublisher) StartStream(host string, audioPort, videoPort int) bool {
	if m.refuse || m.streaming {
		return false
	}
	m.streamHost, m.audioPort, m.videoPort = host, audioPort, videoPort
	m.streaming = true
	return true
}

func (m *mockPublisher) StopStream() bool {
	was := m.streaming
	m.streaming = false
	return was
}

func (m *mockPublisher) SessionDescription() (*sdp.SessionDescription, error) {
	if !m.streaming {
		return nil, publish.ErrNoStream
	}
	cfg := sinks.DefaultStreamConfig()
	cfg.Host = m.streamHost
	cfg.AudioPort = m.audioPort
	cfg.VideoPort = m.videoPort
	return cfg.SessionDescription()
}

func (m *mockPublisher) RemoveBranch(id string) bool {
	if id != "b1" {
		return false
	}
	m.removed = append(m.removed, id)
	return true
}

func (m *mockPublisher) Branches() []publish.BranchInfo {
	return []publish.BranchInfo{
		{ID: "b1", Name: "record", Role: publish.RoleRecord, State: fanout.StateActive},
	}
}

func (m *mockPublisher) Recording() bool { return m.recording }
func (m *mockPublisher) Streaming() bool { return m.streaming }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Record(t *testing.T) {
	pub := &mockPublisher{}
	h := NewServer(pub, nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/record", `{"location":"/tmp/live.lprec"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/tmp/live.lprec", pub.recordLocation)

	rec = do(t, h, http.MethodPost, "/api/v1/record", `{"location":"/tmp/other.lprec"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/record", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/record", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/record", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stream(t *testing.T) {
	pub := &mockPublisher{}
	h := NewServer(pub, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/stream/sdp", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/stream", `{"host":"127.0.0.1","audio_port":70000,"video_port":5006}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/stream", `{"host":"127.0.0.1","audio_port":5004,"video_port":5006}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 5004, pub.audioPort)

	rec = do(t, h, http.MethodGet, "/api/v1/stream/sdp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/sdp", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "m=audio 5004 RTP/AVP 111")

	rec = do(t, h, http.MethodDelete, "/api/v1/stream", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_Branches(t *testing.T) {
	pub := &mockPublisher{recording: true}
	h := NewServer(pub, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/branches", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BranchesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Recording)
	assert.False(t, resp.Streaming)
	require.Len(t, resp.Branches, 1)
	assert.Equal(t, BranchView{ID: "b1", Name: "record", Role: "record", State: "active"}, resp.Branches[0])

	rec = do(t, h, http.MethodDelete, "/api/v1/branches/b1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/branches/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"b1"}, pub.removed)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "live_publish_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	h := NewServer(&mockPublisher{}, reg, nil).Handler()
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "live_publish_test_total 3")

	// Без реестра метрики не экспортируются
	h = NewServer(&mockPublisher{}, nil, nil).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)
}
