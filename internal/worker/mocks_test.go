package worker_test

import (
	"context"
	"sync"

	"basegraph.app/postprocess/internal/postprocess"
	"basegraph.app/postprocess/internal/queue"
)

type mockConsumer struct {
	lock     sync.Mutex
	batches  [][]queue.Message
	readErr  error
	acked    []string
	requeued []string
	dlq      []string
	errMsgs  []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, errMsg string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.requeued = append(m.requeued, msg.ID)
	m.errMsgs = append(m.errMsgs, errMsg)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	m.errMsgs = append(m.errMsgs, errMsg)
	return nil
}

func (m *mockConsumer) ackedIDs() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.acked...)
}

type mockTaskProcessor struct {
	processEventFn   func(ctx context.Context, req postprocess.EventRequest) error
	processPluginFn  func(ctx context.Context, req postprocess.PluginRequest) error
	indexEventTagsFn func(ctx context.Context, req postprocess.TagIndexRequest) error
}

func (m *mockTaskProcessor) ProcessEvent(ctx context.Context, req postprocess.EventRequest) error {
	if m.processEventFn != nil {
		return m.processEventFn(ctx, req)
	}
	return nil
}

func (m *mockTaskProcessor) ProcessPlugin(ctx context.Context, req postprocess.PluginRequest) error {
	if m.processPluginFn != nil {
		return m.processPluginFn(ctx, req)
	}
	return nil
}

func (m *mockTaskProcessor) IndexEventTags(ctx context.Context, req postprocess.TagIndexRequest) error {
	if m.indexEventTagsFn != nil {
		return m.indexEventTagsFn(ctx, req)
	}
	return nil
}

type countingMetrics struct {
	lock   sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) Incr(name string, tags map[string]string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name+"/"+tags["task_type"]+"/"+tags["outcome"]]++
}

func (c *countingMetrics) Timing(string, float64, map[string]string) {}

func (c *countingMetrics) get(key string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.counts[key]
}
