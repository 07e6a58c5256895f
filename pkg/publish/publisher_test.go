package publish

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/graph/graphtest"
	"github.com/arzzra/live_publish/pkg/sinks"
	"github.com/arzzra/live_publish/pkg/testsrc"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newRunningPublisher(t *testing.T) (*Publisher, *testsrc.Source) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Isolator.DrainTimeout = time.Second
	p, err := New(cfg)
	require.NoError(t, err)

	srcCfg := testsrc.DefaultConfig()
	srcCfg.AudioInterval = 2 * time.Millisecond
	srcCfg.VideoInterval = 3 * time.Millisecond
	src, err := testsrc.New("src", srcCfg)
	require.NoError(t, err)
	require.NoError(t, p.AddSource(src))

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })
	return p, src
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func waitGone(t *testing.T, p *Publisher, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, b := range p.Branches() {
			if b.ID == id {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "empty name", modify: func(c *Config) { c.Name = "" }, wantErr: true},
		{name: "no fanout", modify: func(c *Config) { c.Fanout = nil }, wantErr: true},
		{name: "bad fanout", modify: func(c *Config) { c.Fanout.ShutdownTimeout = 0 }, wantErr: true},
		{name: "bad isolator", modify: func(c *Config) { c.Isolator.Bridge.MaxBuffers = 0 }, wantErr: true},
		{name: "bad stream", modify: func(c *Config) { c.Stream.DSCP = 99 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublisher_Record(t *testing.T) {
	p, src := newRunningPublisher(t)
	location := filepath.Join(t.TempDir(), "live.lprec")

	require.True(t, p.StartRecord(location))
	assert.True(t, p.Recording())
	assert.False(t, p.StartRecord(location), "вторая запись не допускается")

	sentAtStart := src.Sent(graph.KindAudio)
	require.Eventually(t, func() bool {
		return src.Sent(graph.KindAudio) > sentAtStart+50
	}, waitFor, tick)

	require.True(t, p.StopRecord())
	assert.False(t, p.Recording())
	assert.False(t, p.StopRecord())

	require.Eventually(t, func() bool { return len(p.Branches()) == 0 }, waitFor, tick)

	f, err := os.Open(location)
	require.NoError(t, err)
	defer f.Close()
	records, err := sinks.ReadRecords(f)
	require.NoError(t, err)

	var audio, video []uint16
	for _, r := range records {
		switch r.Kind {
		case graph.KindAudio:
			audio = append(audio, r.Packet.SequenceNumber)
		case graph.KindVideo:
			video = append(video, r.Packet.SequenceNumber)
		}
	}
	assert.NotEmpty(t, audio)
	assert.NotEmpty(t, video)
	assert.True(t, graphtest.IsContiguous(audio))
	assert.True(t, graphtest.IsContiguous(video))

	// Новая запись после остановки предыдущей
	require.True(t, p.StartRecord(filepath.Join(t.TempDir(), "second.lprec")))
}

func TestPublisher_RecordBadLocation(t *testing.T) {
	p, _ := newRunningPublisher(t)

	assert.False(t, p.StartRecord(filepath.Join(t.TempDir(), "missing", "live.lprec")))
	assert.False(t, p.Recording())
	assert.Empty(t, p.Branches())
	assert.EqualValues(t, 1, testutil.ToFloat64(p.Fanout().Metrics().AttachFailures))
}

func TestPublisher_Stream(t *testing.T) {
	p, _ := newRunningPublisher(t)

	audio, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer audio.Close()
	video, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer video.Close()

	_, err = p.SessionDescription()
	assert.ErrorIs(t, err, ErrNoStream)

	aport := audio.LocalAddr().(*net.UDPAddr).Port
	vport := video.LocalAddr().(*net.UDPAddr).Port
	require.True(t, p.StartStream("127.0.0.1", aport, vport))
	assert.True(t, p.Streaming())
	assert.False(t, p.StartStream("127.0.0.1", aport, vport))

	buf := make([]byte, 1500)
	require.NoError(t, video.SetReadDeadline(time.Now().Add(waitFor)))
	n, err := video.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 12)

	desc, err := p.SessionDescription()
	require.NoError(t, err)
	require.Len(t, desc.MediaDescriptions, 2)
	assert.Equal(t, aport, desc.MediaDescriptions[0].MediaName.Port.Value)
	assert.Equal(t, vport, desc.MediaDescriptions[1].MediaName.Port.Value)

	require.True(t, p.StopStream())
	assert.False(t, p.Streaming())
	_, err = p.SessionDescription()
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestPublisher_StreamErrorClearsSlot(t *testing.T) {
	p, _ := newRunningPublisher(t)

	var got recorder
	p.Subscribe(got.add)

	// Получателя нет, отправка упирается в ICMP port unreachable
	require.True(t, p.StartStream("127.0.0.1", freeUDPPort(t), freeUDPPort(t)))

	require.Eventually(t, func() bool { return len(got.snapshot()) > 0 }, waitFor, tick)
	ev := got.snapshot()[0]
	assert.True(t, ev.Failed)
	assert.Equal(t, RoleStream, ev.Role)
	assert.Equal(t, "stream", ev.Name)
	assert.NotEmpty(t, ev.Message)

	require.Eventually(t, func() bool { return !p.Streaming() }, waitFor, tick)
	waitGone(t, p, ev.ID)
}

func TestPublisher_CustomBranchFinishes(t *testing.T) {
	p, _ := newRunningPublisher(t)

	var got recorder
	p.Subscribe(got.add)

	sibling := graphtest.NewCollectSink("sibling")
	siblingID, ok := p.AddBranch("sibling", sibling)
	require.True(t, ok)

	finite := graphtest.NewFiniteSink("finite", 20)
	id, ok := p.AddBranch("finite", finite)
	require.True(t, ok)
	assert.NotEqual(t, siblingID, id)

	require.Eventually(t, func() bool { return len(got.snapshot()) > 0 }, waitFor, tick)
	ev := got.snapshot()[0]
	assert.Equal(t, Event{ID: id, Name: "finite", Role: RoleCustom}, ev)

	waitGone(t, p, id)
	assert.True(t, finite.GotEOS())

	// Соседняя ветка продолжает получать данные
	before := sibling.BufferCount(graph.KindAudio)
	require.Eventually(t, func() bool {
		return sibling.BufferCount(graph.KindAudio) > before+10
	}, waitFor, tick)
	assert.True(t, graphtest.IsContiguous(graphtest.Sequences(sibling.Buffers(graph.KindAudio))))

	require.True(t, p.RemoveBranch(siblingID))
	assert.False(t, p.RemoveBranch(siblingID))
	waitGone(t, p, siblingID)
	assert.True(t, sibling.GotEOS())
}

func TestPublisher_AddBranchRejectsInvalid(t *testing.T) {
	p, _ := newRunningPublisher(t)

	_, ok := p.AddBranch("nil", nil)
	assert.False(t, ok)
	assert.False(t, p.RemoveBranch("unknown"))
}

func TestPublisher_StopTearsDownBranches(t *testing.T) {
	p, _ := newRunningPublisher(t)

	sink := graphtest.NewCollectSink("tail")
	_, ok := p.AddBranch("tail", sink)
	require.True(t, ok)
	require.True(t, p.StartRecord(filepath.Join(t.TempDir(), "live.lprec")))

	require.NoError(t, p.Stop())
	assert.True(t, sink.GotEOS())
	assert.Equal(t, 1, sink.Stops())
	assert.False(t, p.Recording())
	assert.Equal(t, 0, p.Fanout().BranchCount())

	// После остановки ветки не подключаются
	assert.False(t, p.StartRecord(filepath.Join(t.TempDir(), "late.lprec")))
	assert.NoError(t, p.Stop())
}
