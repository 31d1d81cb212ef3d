// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	called  chan struct{}
}

func (f *fakePruner) DeleteSpansOlderThan(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, before)
	f.mu.Unlock()
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	return 2, f.err
}

func TestRetentionManager_CleanupNow(t *testing.T) {
	pruner := &fakePruner{}
	rm := NewRetentionManager(pruner, RetentionConfig{MaxAge: time.Hour}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rm.now = func() time.Time { return now }

	n, err := rm.CleanupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, now.Add(-time.Hour), pruner.cutoffs[0])

	pruner.err = errors.New("disk full")
	_, err = rm.CleanupNow(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestRetentionManager_StartStop(t *testing.T) {
	pruner := &fakePruner{called: make(chan struct{}, 1)}
	rm := NewRetentionManager(pruner, RetentionConfig{Interval: time.Hour}, nil)

	rm.Start()
	rm.Start()
	select {
	case <-pruner.called:
	case <-time.After(5 * time.Second):
		t.Fatal("expected an immediate cleanup pass")
	}
	rm.Stop()
	rm.Stop()
}

func TestRetentionManager_StopWithoutStart(t *testing.T) {
	rm := NewRetentionManager(&fakePruner{}, RetentionConfig{}, nil)
	done := make(chan struct{})
	go func() {
		rm.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked without Start")
	}
	assert.Equal(t, DefaultRetentionMaxAge, rm.maxAge)
}
