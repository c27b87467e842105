package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsforge/build-service/internal/executor"
)

type fakeDispatchSource struct {
	deliveries chan amqp.Delivery
	qos        int
}

func (f *fakeDispatchSource) Qos(prefetchCount int) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeDispatchSource) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) counts() (int, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks, f.nacks, f.requeue
}

func TestServiceRun_DrainsInFlightJobsBeforeReturning(t *testing.T) {
	workRoot := t.TempDir()
	store := &fakeStore{rec: stageJob(t, workRoot, []string{"top.v"})}
	sink := &fakeSink{}
	prov := &fakeProvisioner{}
	prov.inst.ID = "i-0abc123"
	prov.inst.PrivateDNS = "host"

	started := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{run: func(spec executor.Spec) error {
		close(started)
		<-release
		return nil
	}}

	orch := newTestOrchestrator(workRoot, store, sink, prov, &fakeProber{}, runner)

	ack := &fakeAcknowledger{}
	source := &fakeDispatchSource{deliveries: make(chan amqp.Delivery, 1)}
	svc := NewService(source, orch, 5, "test-consumer", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	source.deliveries <- amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Body:         []byte(`{"job_id":"` + testJobID + `"}`),
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never started")
	}

	cancel()

	// The pipeline is still running; Run must keep waiting for it.
	select {
	case err := <-done:
		t.Fatalf("Run returned before the pipeline finished: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the pipeline finished")
	}

	// The whole pipeline completed despite the shutdown signal.
	assert.True(t, store.completed)
	assert.True(t, store.terminated)

	acks, nacks, _ := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Zero(t, nacks)
	assert.Equal(t, 5, source.qos)
}

func TestServiceRun_DropsUnparseableDispatches(t *testing.T) {
	workRoot := t.TempDir()
	store := &fakeStore{}
	prov := &fakeProvisioner{}

	orch := newTestOrchestrator(workRoot, store, &fakeSink{}, prov, &fakeProber{}, &fakeRunner{})

	ack := &fakeAcknowledger{}
	source := &fakeDispatchSource{deliveries: make(chan amqp.Delivery, 2)}
	svc := NewService(source, orch, 0, "test-consumer", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`not json`)}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"job_id":"not-a-uuid"}`)}

	require.Eventually(t, func() bool {
		_, nacks, _ := ack.counts()
		return nacks == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Dropped, not requeued: a malformed payload never becomes parseable.
	acks, nacks, requeue := ack.counts()
	assert.Zero(t, acks)
	assert.Equal(t, 2, nacks)
	assert.False(t, requeue)
	assert.Zero(t, prov.provisioned)
}
