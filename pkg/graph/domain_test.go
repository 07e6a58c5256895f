package graph_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/graph/graphtest"
)

type orderedElement struct {
	name     string
	log      *[]string
	mu       *sync.Mutex
	startErr error
	worker   bool
	exited   atomic.Bool
}

func (e *orderedElement) Name() string                         { return e.name }
func (e *orderedElement) SinkPad(graph.MediaKind) graph.SinkPad { return nil }

func (e *orderedElement) Start(_ context.Context, host graph.Host) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	*e.log = append(*e.log, "start "+e.name)
	e.mu.Unlock()
	if e.worker {
		host.Go(func(ctx context.Context) {
			<-ctx.Done()
			e.exited.Store(true)
		})
	}
	return nil
}

func (e *orderedElement) Stop() error {
	e.mu.Lock()
	*e.log = append(*e.log, "stop "+e.name)
	e.mu.Unlock()
	return nil
}

func TestDomain_StartStopOrder(t *testing.T) {
	var mu sync.Mutex
	var log []string
	a := &orderedElement{name: "a", log: &log, mu: &mu}
	b := &orderedElement{name: "b", log: &log, mu: &mu, worker: true}

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(a))
	require.NoError(t, d.Add(b))
	assert.Error(t, d.Add(a))

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())
	assert.False(t, d.BaseTime().IsZero())

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())
	assert.True(t, b.exited.Load(), "рабочая горутина должна завершиться до остановки элементов")

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)

	// Домен однократного использования
	err := d.Start(context.Background())
	assert.True(t, graph.HasErrorCode(err, graph.ErrorCodeDomainAlreadyRunning))
}

func TestDomain_StartFailureStopsStarted(t *testing.T) {
	var mu sync.Mutex
	var log []string
	a := &orderedElement{name: "a", log: &log, mu: &mu}
	broken := &orderedElement{name: "broken", log: &log, mu: &mu, startErr: errors.New("no device")}

	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Add(a))
	require.NoError(t, d.Add(broken))

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.True(t, graph.HasErrorCode(err, graph.ErrorCodeElementStartFailed))
	assert.Equal(t, []string{"start a", "stop a"}, log)

	assert.NoError(t, d.Stop())
}

func TestDomain_AddWhileRunning(t *testing.T) {
	d := graph.NewDomain("main", nil)
	require.NoError(t, d.Start(context.Background()))

	sink := graphtest.NewCollectSink("late")
	require.NoError(t, d.Add(sink))
	assert.Equal(t, 1, sink.Starts())

	require.NoError(t, d.Remove(sink))
	assert.Equal(t, 1, sink.Stops())
	assert.Error(t, d.Remove(sink))

	require.NoError(t, d.Stop())
	assert.Equal(t, 1, sink.Stops())
}

func TestDomain_SetBaseTimeKept(t *testing.T) {
	ref := time.Now().Add(-time.Hour)
	d := graph.NewDomain("inner", nil)
	d.SetBaseTime(ref)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	assert.Equal(t, ref, d.BaseTime())
}

func TestDomain_BusDeliversPostedMessages(t *testing.T) {
	d := graph.NewDomain("main", nil)

	var mu sync.Mutex
	var got []graph.Message
	remove := d.Bus().AddWatch(func(m graph.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	defer remove()

	require.NoError(t, d.Start(context.Background()))
	d.Post(graph.NewErrorMessage("writer", errors.New("io")))
	d.Post(graph.NewEOSMessage("writer"))
	require.NoError(t, d.Stop())

	// Stop доставляет оставшиеся сообщения
	require.Len(t, got, 2)
	assert.Equal(t, graph.MessageError, got[0].Type)
	assert.Equal(t, graph.MessageEOS, got[1].Type)
	assert.Equal(t, "writer", got[1].Source)

	// После остановки сообщения отбрасываются
	d.Post(graph.NewEOSMessage("late"))
	assert.Len(t, got, 2)
}

func TestDomain_GoOutsideRunIgnored(t *testing.T) {
	d := graph.NewDomain("idle", nil)
	called := make(chan struct{}, 1)
	d.Go(func(context.Context) { called <- struct{}{} })

	select {
	case <-called:
		t.Fatal("рабочая горутина запущена вне домена")
	case <-time.After(20 * time.Millisecond):
	}
	assert.NoError(t, d.Stop())
}
