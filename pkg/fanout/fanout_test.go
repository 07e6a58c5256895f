package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/graph/graphtest"
	"github.com/arzzra/live_publish/pkg/isolator"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestFanout(t *testing.T) (*Fanout, *graph.Domain) {
	t.Helper()

	f, err := New("test", DefaultConfig())
	require.NoError(t, err)

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(f))
	require.NoError(t, d.Start(context.Background()))

	t.Cleanup(func() {
		_ = d.Stop()
		_ = f.Close()
	})
	return f, d
}

func newIsolated(t *testing.T, child graph.Element) *isolator.Isolator {
	t.Helper()
	iso, err := isolator.New("iso-"+child.Name(), nil)
	require.NoError(t, err)
	require.NoError(t, iso.SetChild(child))
	return iso
}

// push подает в узел n буферов каждого вида, начиная с номера from
func push(t *testing.T, f *Fanout, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		for _, kind := range graph.Kinds() {
			require.NoError(t, f.SinkPad(kind).Chain(graphtest.NewBuffer(kind, uint16(i))))
		}
	}
}

func waitRemoved(t *testing.T, f *Fanout, el graph.Element) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.BranchState(el)
		return !ok
	}, waitFor, tick, "ветка %s не удалена", el.Name())
}

// assertRoundTrip проверяет, что порт получил ровно k буферов подряд и
// затем один EOS
func assertRoundTrip(t *testing.T, sink *graphtest.CollectSink, k int) {
	t.Helper()
	for _, kind := range graph.Kinds() {
		items := sink.Items(kind)
		require.Len(t, items, k+1, "порт %s", kind)

		seqs := graphtest.Sequences(sink.Buffers(kind))
		require.Len(t, seqs, k)
		assert.True(t, graphtest.IsContiguous(seqs), "порт %s: разрыв последовательности %v", kind, seqs)
		if k > 0 {
			assert.Equal(t, uint16(0), seqs[0])
		}

		assert.True(t, items[len(items)-1].IsEOS(), "последний элемент порта %s должен быть EOS", kind)
		assert.Equal(t, 1, sink.EOSCount(kind))
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []graph.BranchEvent
}

func (r *eventRecorder) record(ev graph.BranchEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(branch string, match func(graph.BranchEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.BranchName() == branch && match(ev) {
			n++
		}
	}
	return n
}

func isError(ev graph.BranchEvent) bool {
	_, ok := ev.(graph.BranchError)
	return ok
}

func isFinished(ev graph.BranchEvent) bool {
	_, ok := ev.(graph.BranchFinished)
	return ok
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "empty namespace", config: &Config{ShutdownTimeout: time.Second}},
		{name: "zero shutdown timeout", config: &Config{Namespace: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("bad", tt.config)
			assert.Error(t, err)
		})
	}
}

func TestFanout_RoundTrip(t *testing.T) {
	f, _ := newTestFanout(t)

	sink := graphtest.NewCollectSink("rec")
	require.True(t, f.Attach(sink))

	state, ok := f.BranchState(sink)
	require.True(t, ok)
	assert.Equal(t, StateActive, state)
	assert.Equal(t, 1, sink.Starts())

	const k = 50
	push(t, f, 0, k)

	require.True(t, f.Detach(sink))
	waitRemoved(t, f, sink)

	assertRoundTrip(t, sink, k)
	assert.Equal(t, 1, sink.Stops())
	assert.Equal(t, 0, f.splitters[graph.KindAudio].Connections())
	assert.Equal(t, 0, f.splitters[graph.KindVideo].Connections())
}

func TestFanout_RoundTripIsolated(t *testing.T) {
	f, _ := newTestFanout(t)

	child := graphtest.NewCollectSink("rec")
	iso := newIsolated(t, child)
	require.True(t, f.Attach(iso))

	const k = 40
	push(t, f, 0, k)

	require.True(t, f.Detach(iso))
	waitRemoved(t, f, iso)

	// Удаление ветки означает полную остановку изолированного домена
	assertRoundTrip(t, child, k)
	assert.Equal(t, 1, child.Starts())
	assert.Equal(t, 1, child.Stops())
}

func TestFanout_DetachKeepsSiblingsContinuous(t *testing.T) {
	f, _ := newTestFanout(t)

	sinks := []*graphtest.CollectSink{
		graphtest.NewCollectSink("a"),
		graphtest.NewCollectSink("b"),
		graphtest.NewCollectSink("c"),
	}
	for _, s := range sinks {
		require.True(t, f.Attach(s))
	}

	push(t, f, 0, 20)
	require.True(t, f.Detach(sinks[1]))
	push(t, f, 20, 20)
	waitRemoved(t, f, sinks[1])
	push(t, f, 40, 20)

	for _, s := range []*graphtest.CollectSink{sinks[0], sinks[2]} {
		for _, kind := range graph.Kinds() {
			seqs := graphtest.Sequences(s.Buffers(kind))
			assert.Len(t, seqs, 60, "%s/%s", s.Name(), kind)
			assert.True(t, graphtest.IsContiguous(seqs), "%s/%s", s.Name(), kind)
			assert.Equal(t, 0, s.EOSCount(kind))
		}
	}

	// Отключенная ветка получила префикс потока и ровно один EOS
	for _, kind := range graph.Kinds() {
		seqs := graphtest.Sequences(sinks[1].Buffers(kind))
		assert.True(t, graphtest.IsContiguous(seqs))
		assert.GreaterOrEqual(t, len(seqs), 20)
		assert.Equal(t, 1, sinks[1].EOSCount(kind))
	}
}

func TestFanout_DetachKeepsIsolatedSiblingsContinuous(t *testing.T) {
	f, _ := newTestFanout(t)

	children := make([]*graphtest.CollectSink, 3)
	isos := make([]*isolator.Isolator, 3)
	for i := range children {
		children[i] = graphtest.NewCollectSink(fmt.Sprintf("child-%d", i))
		isos[i] = newIsolated(t, children[i])
		require.True(t, f.Attach(isos[i]))
	}

	push(t, f, 0, 30)
	require.True(t, f.Detach(isos[0]))
	push(t, f, 30, 30)
	waitRemoved(t, f, isos[0])

	for _, iso := range isos[1:] {
		require.True(t, f.Detach(iso))
	}
	for _, iso := range isos[1:] {
		waitRemoved(t, f, iso)
	}

	for _, child := range children[1:] {
		assertRoundTrip(t, child, 60)
	}
}

func TestFanout_AttachThenImmediateDetach(t *testing.T) {
	f, _ := newTestFanout(t)

	var mu sync.Mutex
	var changes []StateChange
	f.SetStateChangeHandler(func(sc StateChange) {
		mu.Lock()
		changes = append(changes, sc)
		mu.Unlock()
	})

	sink := newIsolated(t, graphtest.NewCollectSink("quick"))
	require.True(t, f.Attach(sink))
	require.True(t, f.Detach(sink))
	waitRemoved(t, f, sink)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 5
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	want := []BranchState{StateAttaching, StateActive, StateDetaching, StateQuiescent, StateRemoved}
	prev := StateDetached
	for i, sc := range changes {
		assert.Equal(t, prev, sc.From, "переход %d", i)
		assert.Equal(t, want[i], sc.To, "переход %d", i)
		assert.Equal(t, changes[0].BranchID, sc.BranchID)
		prev = sc.To
	}
}

func TestFanout_DetachTwice(t *testing.T) {
	f, _ := newTestFanout(t)

	gated := graphtest.NewGatedSink("gated")
	require.True(t, f.Attach(gated))

	// Буфер застревает в шлюзе, поэтому точка перехвата не установится,
	// пока шлюз закрыт, и ветка останется в detaching
	go func() { _ = f.SinkPad(graph.KindAudio).Chain(graphtest.NewBuffer(graph.KindAudio, 0)) }()
	require.Eventually(t, func() bool { return gated.Entered() == 1 }, waitFor, tick)

	require.True(t, f.Detach(gated))
	assert.False(t, f.Detach(gated))

	state, ok := f.BranchState(gated)
	require.True(t, ok)
	assert.Equal(t, StateDetaching, state)

	gated.Open()
	waitRemoved(t, f, gated)

	assert.False(t, f.Detach(gated))
	assert.Equal(t, 1, gated.Stops())
	assert.Equal(t, 1, gated.EOSCount(graph.KindAudio))
	assert.Equal(t, 1, gated.EOSCount(graph.KindVideo))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.Metrics().Detaches.WithLabelValues(ReasonOperator)))
}

func TestFanout_DetachUnknown(t *testing.T) {
	f, _ := newTestFanout(t)
	assert.False(t, f.Detach(graphtest.NewCollectSink("stranger")))
}

func TestFanout_IsolatedBranchError(t *testing.T) {
	f, _ := newTestFanout(t)

	rec := &eventRecorder{}
	f.Subscribe(rec.record)

	sibling := graphtest.NewCollectSink("sibling")
	require.True(t, f.Attach(sibling))

	failing := graphtest.NewFailingSink("disk", 5)
	iso := newIsolated(t, failing)
	require.True(t, f.Attach(iso))

	push(t, f, 0, 30)

	require.Eventually(t, func() bool {
		return rec.count(iso.Name(), isError) == 1
	}, waitFor, tick)
	waitRemoved(t, f, iso)

	push(t, f, 30, 30)

	// Событие только одно, хотя запись отказывала много раз
	assert.Greater(t, failing.Failures(), 1)
	assert.Equal(t, 1, rec.count(iso.Name(), isError))
	assert.Equal(t, 0, rec.count(iso.Name(), isFinished))

	for _, kind := range graph.Kinds() {
		seqs := graphtest.Sequences(sibling.Buffers(kind))
		assert.Len(t, seqs, 60)
		assert.True(t, graphtest.IsContiguous(seqs))
	}

	state, ok := f.BranchState(sibling)
	require.True(t, ok)
	assert.Equal(t, StateActive, state)

	m := f.Metrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BranchErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Detaches.WithLabelValues(ReasonError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BranchesActive))
}

func TestFanout_PlainBranchError(t *testing.T) {
	f, _ := newTestFanout(t)

	rec := &eventRecorder{}
	f.Subscribe(rec.record)

	sibling := graphtest.NewCollectSink("sibling")
	failing := graphtest.NewFailingSink("net", 3)
	require.True(t, f.Attach(sibling))
	require.True(t, f.Attach(failing))

	push(t, f, 0, 20)
	waitRemoved(t, f, failing)
	push(t, f, 20, 20)

	require.Eventually(t, func() bool {
		return rec.count("net", isError) == 1
	}, waitFor, tick)
	assert.Equal(t, 1, rec.count("net", isError))

	for _, kind := range graph.Kinds() {
		seqs := graphtest.Sequences(sibling.Buffers(kind))
		assert.Len(t, seqs, 40)
		assert.True(t, graphtest.IsContiguous(seqs))
	}
	assert.Equal(t, 1, failing.Stops())
}

func TestFanout_BranchFinishedAutoDetach(t *testing.T) {
	f, _ := newTestFanout(t)

	rec := &eventRecorder{}
	f.Subscribe(rec.record)

	finite := graphtest.NewFiniteSink("clip", 10)
	require.True(t, f.Attach(finite))

	push(t, f, 0, 20)
	waitRemoved(t, f, finite)

	require.Eventually(t, func() bool {
		return rec.count("clip", isFinished) == 1
	}, waitFor, tick)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.Metrics().Detaches.WithLabelValues(ReasonFinished)))
	assert.Equal(t, 1, finite.EOSCount(graph.KindAudio))
	assert.Equal(t, 1, finite.EOSCount(graph.KindVideo))
}

func TestFanout_ConcurrentAttach(t *testing.T) {
	f, _ := newTestFanout(t)

	const pairs = 20
	sinks := make([]*graphtest.CollectSink, 2*pairs)
	for i := range sinks {
		sinks[i] = graphtest.NewCollectSink(fmt.Sprintf("b%d", i))
	}

	results := make([]bool, len(sinks))
	for p := 0; p < pairs; p++ {
		var wg sync.WaitGroup
		start := make(chan struct{})
		for j := 0; j < 2; j++ {
			idx := 2*p + j
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[idx] = f.Attach(sinks[idx])
			}()
		}
		close(start)
		wg.Wait()
	}

	for i, ok := range results {
		assert.True(t, ok, "attach %d", i)
	}
	assert.Equal(t, len(sinks), f.splitters[graph.KindAudio].Connections())
	assert.Equal(t, len(sinks), f.splitters[graph.KindVideo].Connections())

	ids := make(map[string]bool)
	for _, info := range f.Branches() {
		assert.Equal(t, StateActive, info.State)
		assert.False(t, ids[info.ID], "повторный id %s", info.ID)
		ids[info.ID] = true
	}
	assert.Len(t, ids, len(sinks))

	push(t, f, 0, 5)
	for _, s := range sinks {
		assert.Equal(t, 5, s.BufferCount(graph.KindAudio), s.Name())
		assert.Equal(t, 5, s.BufferCount(graph.KindVideo), s.Name())
	}
}

func TestFanout_ConcurrentAttachDetach(t *testing.T) {
	f, _ := newTestFanout(t)

	stable := graphtest.NewCollectSink("stable")
	require.True(t, f.Attach(stable))

	ctx, cancel := context.WithCancel(context.Background())
	var feeder sync.WaitGroup
	feeder.Add(1)
	sent := 0
	go func() {
		defer feeder.Done()
		for ctx.Err() == nil {
			for _, kind := range graph.Kinds() {
				_ = f.SinkPad(kind).Chain(graphtest.NewBuffer(kind, uint16(sent)))
			}
			sent++
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				s := graphtest.NewCollectSink(fmt.Sprintf("w%d-%d", w, i))
				if !f.Attach(s) {
					t.Errorf("attach %s", s.Name())
					return
				}
				time.Sleep(time.Millisecond)
				if !f.Detach(s) {
					t.Errorf("detach %s", s.Name())
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return f.BranchCount() == 1 }, waitFor, tick)
	cancel()
	feeder.Wait()

	for _, kind := range graph.Kinds() {
		seqs := graphtest.Sequences(stable.Buffers(kind))
		assert.Len(t, seqs, sent)
		assert.True(t, graphtest.IsContiguous(seqs))
	}
}

type audioOnly struct {
	pad graph.SinkPad
}

func (a *audioOnly) Name() string { return "audio-only" }
func (a *audioOnly) SinkPad(kind graph.MediaKind) graph.SinkPad {
	if kind == graph.KindAudio {
		return a.pad
	}
	return nil
}
func (a *audioOnly) Start(context.Context, graph.Host) error { return nil }
func (a *audioOnly) Stop() error                             { return nil }

func TestFanout_AttachRejectsInvalidBranch(t *testing.T) {
	f, _ := newTestFanout(t)

	el := &audioOnly{pad: graph.NewFuncPad(graph.AudioPadName, graph.KindAudio, nil, nil)}
	assert.False(t, f.Attach(el))
	assert.Equal(t, 0, f.BranchCount())
	assert.Equal(t, 0, f.splitters[graph.KindAudio].Connections())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.Metrics().AttachFailures))
}

type brokenStart struct {
	*graphtest.CollectSink
}

func (b *brokenStart) Start(context.Context, graph.Host) error {
	return errors.New("device busy")
}

func TestFanout_AttachRollback(t *testing.T) {
	f, _ := newTestFanout(t)

	var mu sync.Mutex
	var changes []StateChange
	f.SetStateChangeHandler(func(sc StateChange) {
		mu.Lock()
		changes = append(changes, sc)
		mu.Unlock()
	})

	el := &brokenStart{CollectSink: graphtest.NewCollectSink("broken")}
	assert.False(t, f.Attach(el))

	assert.Equal(t, 0, f.BranchCount())
	assert.Equal(t, 0, f.splitters[graph.KindAudio].Connections())
	assert.Equal(t, 0, f.splitters[graph.KindVideo].Connections())
	assert.Equal(t, 0, el.Stops())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, StateAttaching, changes[0].To)
	assert.Equal(t, StateAttaching, changes[1].From)
	assert.Equal(t, StateDetached, changes[1].To)
	mu.Unlock()

	// Неудачное подключение не мешает следующему
	ok := graphtest.NewCollectSink("ok")
	assert.True(t, f.Attach(ok))
}

func TestFanout_AttachTwice(t *testing.T) {
	f, _ := newTestFanout(t)

	sink := graphtest.NewCollectSink("dup")
	require.True(t, f.Attach(sink))
	assert.False(t, f.Attach(sink))
	assert.Equal(t, 1, f.splitters[graph.KindAudio].Connections())
	assert.Equal(t, 1, sink.Starts())
}

func TestFanout_ReattachAfterRemoval(t *testing.T) {
	f, _ := newTestFanout(t)

	sink := graphtest.NewCollectSink("again")
	require.True(t, f.Attach(sink))
	first := f.Branches()[0].ID

	require.True(t, f.Detach(sink))
	waitRemoved(t, f, sink)

	require.True(t, f.Attach(sink))
	second := f.Branches()[0].ID
	assert.NotEqual(t, first, second)
}

func TestFanout_AttachBeforeStart(t *testing.T) {
	f, err := New("cold", nil)
	require.NoError(t, err)
	defer f.Close()

	sink := graphtest.NewCollectSink("early")
	require.True(t, f.Attach(sink))
	assert.Equal(t, 0, sink.Starts())

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(f))
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 1, sink.Starts())

	push(t, f, 0, 3)
	require.NoError(t, d.Stop())

	assertRoundTrip(t, sink, 3)
	assert.Equal(t, 1, sink.Stops())
}

func TestFanout_StopTearsDownBranches(t *testing.T) {
	f, err := New("stop", nil)
	require.NoError(t, err)
	defer f.Close()

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(f))
	require.NoError(t, d.Start(context.Background()))

	plain := graphtest.NewCollectSink("plain")
	child := graphtest.NewCollectSink("child")
	iso := newIsolated(t, child)
	require.True(t, f.Attach(plain))
	require.True(t, f.Attach(iso))

	push(t, f, 0, 10)
	require.NoError(t, d.Stop())

	assert.Equal(t, 0, f.BranchCount())
	assertRoundTrip(t, plain, 10)
	assertRoundTrip(t, child, 10)
	assert.Equal(t, 1, child.Stops())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.Metrics().Detaches.WithLabelValues(ReasonShutdown)))

	assert.False(t, f.Detach(plain))
}

func TestFanout_StalledIsolatedBranchDoesNotBlockSiblings(t *testing.T) {
	f, _ := newTestFanout(t)

	gated := graphtest.NewGatedSink("stalled")
	iso, err := isolator.New("iso-stalled", &isolator.Config{
		Bridge:       graph.BridgeConfig{MaxBuffers: 8, Policy: graph.DropNew},
		DrainTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, iso.SetChild(gated))

	sibling := graphtest.NewCollectSink("sibling")
	require.True(t, f.Attach(iso))
	require.True(t, f.Attach(sibling))

	// Потребитель изолированной ветки завис, а поток в соседнюю ветку идет
	push(t, f, 0, 100)
	for _, kind := range graph.Kinds() {
		assert.Equal(t, 100, sibling.BufferCount(kind))
	}
	assert.Greater(t, iso.Stats()[graph.KindAudio].Dropped, uint64(0))

	gated.Open()
	require.True(t, f.Detach(iso))
	waitRemoved(t, f, iso)

	for _, kind := range graph.Kinds() {
		assert.Equal(t, 1, gated.EOSCount(kind))
	}
}

// stallAudio оставляет один аудио буфер внутри Chain закрытого шлюза
func stallAudio(t *testing.T, f *Fanout, gated *graphtest.GatedSink) {
	t.Helper()
	go func() { _ = f.SinkPad(graph.KindAudio).Chain(graphtest.NewBuffer(graph.KindAudio, 0)) }()
	require.Eventually(t, func() bool { return gated.Entered() == 1 }, waitFor, tick)
}

func TestFanout_DetachStalledPlainBranchReturns(t *testing.T) {
	f, _ := newTestFanout(t)

	gated := graphtest.NewGatedSink("stalled")
	require.True(t, f.Attach(gated))
	stallAudio(t, f, gated)

	detached := make(chan bool, 1)
	go func() { detached <- f.Detach(gated) }()
	select {
	case ok := <-detached:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Detach ждет передачу, застрявшую в ветке")
	}

	// Управление узлом не блокируется застрявшим соединением
	other := graphtest.NewCollectSink("other")
	attached := make(chan bool, 1)
	go func() { attached <- f.Attach(other) }()
	select {
	case ok := <-attached:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Attach другой ветки заблокирован")
	}

	state, ok := f.BranchState(gated)
	require.True(t, ok)
	assert.Equal(t, StateDetaching, state)

	gated.Open()
	waitRemoved(t, f, gated)

	for _, kind := range graph.Kinds() {
		assert.Equal(t, 1, gated.EOSCount(kind))
	}
	state, ok = f.BranchState(other)
	require.True(t, ok)
	assert.Equal(t, StateActive, state)
}

func TestFanout_StopWithStalledPushTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	f, err := New("stalled-stop", cfg)
	require.NoError(t, err)

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(f))
	require.NoError(t, d.Start(context.Background()))

	gated := graphtest.NewGatedSink("stalled")
	require.True(t, f.Attach(gated))
	stallAudio(t, f, gated)

	stopped := make(chan error, 1)
	go func() { stopped <- f.Stop() }()
	select {
	case err := <-stopped:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop не вернулся после ShutdownTimeout")
	}

	gated.Open()
	waitRemoved(t, f, gated)
	assert.Equal(t, 1, gated.Stops())

	_ = d.Stop()
	assert.NoError(t, f.Close())
}

func TestFanout_DetachUnstartedIsolatorClosesBridge(t *testing.T) {
	f, err := New("cold", nil)
	require.NoError(t, err)
	defer f.Close()

	child := graphtest.NewCollectSink("child")
	iso := newIsolated(t, child)
	require.True(t, f.Attach(iso))
	require.True(t, f.Detach(iso))
	waitRemoved(t, f, iso)

	assert.Equal(t, 0, child.Starts())
	for _, kind := range graph.Kinds() {
		err := iso.SinkPad(kind).Chain(graphtest.NewBuffer(kind, 0))
		assert.ErrorIs(t, err, graph.ErrFlushing)
	}
}
