// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func mkTrigger(t *testing.T, content string, start int) *trigger.Trigger {
	t.Helper()
	tr, err := trigger.New("main.go", []byte(content), ast.Span{Start: start, End: start + 1},
		trigger.Diagnostic{Message: "m"})
	require.NoError(t, err)
	return tr
}

func testConfig() Config {
	return Config{Capacity: 4, SubmitTimeout: 20 * time.Millisecond, DedupTTL: time.Minute}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []Config{
		{Capacity: 0, SubmitTimeout: time.Second, DedupTTL: time.Second},
		{Capacity: 1, SubmitTimeout: 0, DedupTTL: time.Second},
		{Capacity: 1, SubmitTimeout: time.Second, DedupTTL: -1},
	}
	for i, cfg := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := New(cfg)
			assert.ErrorIs(t, err, failure.ErrConfiguration)
		})
	}
}

func TestSubmit_DedupIdempotence(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)

	first := mkTrigger(t, "package main", 0)
	second := mkTrigger(t, "package main", 0)
	require.Equal(t, first.Hash(), second.Hash())

	out, err := q.Submit(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out)

	out, err = q.Submit(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, Deduplicated, out)

	assert.Equal(t, 1, q.Len())
	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Accepted)
	assert.Equal(t, int64(1), stats.Deduplicated)
}

func TestSubmit_AcceptedAgainAfterTTL(t *testing.T) {
	clock := newClock()
	q, err := New(testConfig(), WithClock(clock.Now))
	require.NoError(t, err)

	tr := mkTrigger(t, "package main", 0)
	out, err := q.Submit(context.Background(), tr)
	require.NoError(t, err)
	require.Equal(t, Accepted, out)

	clock.Advance(59 * time.Second)
	out, _ = q.Submit(context.Background(), tr)
	assert.Equal(t, Deduplicated, out)

	clock.Advance(2 * time.Second)
	out, err = q.Submit(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out)
}

func TestSubmit_FullQueueExhausts(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 2
	q, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := q.Submit(context.Background(), mkTrigger(t, "package main", i))
		require.NoError(t, err)
	}

	overflow := mkTrigger(t, "package main", 5)
	start := time.Now()
	_, err = q.Submit(context.Background(), overflow)
	assert.ErrorIs(t, err, failure.ErrResourceExhausted)
	assert.GreaterOrEqual(t, time.Since(start), cfg.SubmitTimeout)
	assert.Equal(t, int64(1), q.Stats().Exhausted)

	// The hash was released: after draining one slot the retry is accepted.
	_, err = q.Next(context.Background())
	require.NoError(t, err)
	out, err := q.Submit(context.Background(), overflow)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out)
}

func TestSubmit_BlockedSubmitterProceedsWhenDrained(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	cfg.SubmitTimeout = time.Second
	q, err := New(cfg)
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), mkTrigger(t, "package main", 0))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), mkTrigger(t, "package main", 1))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = q.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, 1, q.Len())
}

func TestSubmit_ContextCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	cfg.SubmitTimeout = time.Minute
	q, err := New(cfg)
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), mkTrigger(t, "package main", 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	tr := mkTrigger(t, "package main", 1)
	_, err = q.Submit(ctx, tr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, q.window.Contains(tr.Hash()))
}

func TestSubmit_PreservesProducerOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 16
	q, err := New(cfg)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 10; i++ {
		tr := mkTrigger(t, "package main", i)
		want = append(want, tr.ID())
		_, err := q.Submit(context.Background(), tr)
		require.NoError(t, err)
	}
	for _, id := range want {
		got, err := q.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, got.ID())
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 8
	cfg.SubmitTimeout = time.Second
	q, err := New(cfg)
	require.NoError(t, err)

	const producers, perProducer = 4, 25
	content := make([]byte, producers*perProducer+1)
	for i := range content {
		content[i] = 'x'
	}

	var consumed sync.Map
	var wg sync.WaitGroup
	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tr, err := q.Next(context.Background())
				if err != nil {
					return
				}
				_, dup := consumed.LoadOrStore(tr.ID(), true)
				assert.False(t, dup, "trigger consumed twice")
			}
		}()
	}

	var pw sync.WaitGroup
	for p := 0; p < producers; p++ {
		pw.Add(1)
		go func(p int) {
			defer pw.Done()
			for i := 0; i < perProducer; i++ {
				_, err := q.Submit(context.Background(), mkTrigger(t, string(content), p*perProducer+i))
				assert.NoError(t, err)
			}
		}(p)
	}
	pw.Wait()
	q.Close()
	wg.Wait()

	count := 0
	consumed.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, producers*perProducer, count)
}

func TestClose(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), mkTrigger(t, "package main", 0))
	require.NoError(t, err)

	q.Close()
	q.Close()

	_, err = q.Submit(context.Background(), mkTrigger(t, "package main", 1))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = q.Next(context.Background())
	require.NoError(t, err, "queued triggers survive Close")
	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_ReleasesBlockedSubmitter(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	cfg.SubmitTimeout = time.Minute
	q, err := New(cfg)
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), mkTrigger(t, "package main", 0))
	require.NoError(t, err)

	blocked := mkTrigger(t, "package main", 1)
	submitted := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), blocked)
		submitted <- err
	}()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited on a blocked submitter")
	}
	assert.ErrorIs(t, <-submitted, ErrClosed)

	_, err = q.Next(context.Background())
	require.NoError(t, err, "queued triggers survive Close")
	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, q.Stats().WindowSize, "the released trigger's hash is forgotten")
}

func TestWindow_Sweep(t *testing.T) {
	clock := newClock()
	w := NewWindow(time.Second, clock.Now)
	assert.True(t, w.Claim("a"))
	assert.True(t, w.Claim("b"))
	assert.False(t, w.Claim("a"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, w.Sweep())
	assert.Equal(t, 0, w.Len())

	assert.True(t, w.Claim("a"))
	w.Forget("a")
	assert.False(t, w.Contains("a"))
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
