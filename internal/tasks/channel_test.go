// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Channel) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not drain")
	}
}

func TestChannelDeliversInOrder(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(rec.add)
	c.Start()

	for i := 0; i <= 100; i++ {
		c.Publish(ProgressChanged{TaskID: "t", Percent: i})
	}
	c.Close()
	drain(t, c)

	got := rec.all()
	require.Len(t, got, 101)
	for i, n := range got {
		assert.Equal(t, ProgressChanged{TaskID: "t", Percent: i}, n)
	}
}

func TestChannelCoalescesQueuedProgress(t *testing.T) {
	c := NewChannel(true, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(rec.add)

	// Queue everything before the relay starts so nothing is consumed early.
	c.Publish(StatusChanged{TaskID: "t", Text: "a"})
	c.Publish(ProgressChanged{TaskID: "t", Percent: 1})
	c.Publish(ProgressChanged{TaskID: "t", Percent: 2})
	c.Publish(ProgressChanged{TaskID: "t", Percent: 3})
	c.Publish(StatusChanged{TaskID: "t", Text: "b"})
	c.Publish(StatusChanged{TaskID: "t", Text: "c"})
	c.Publish(ProgressChanged{TaskID: "t", Percent: 4})
	c.Publish(RunningChanged{TaskID: "t", Running: false})
	assert.Equal(t, 6, c.Pending())

	c.Start()
	c.Close()
	drain(t, c)

	assert.Equal(t, []Notification{
		StatusChanged{TaskID: "t", Text: "a"},
		ProgressChanged{TaskID: "t", Percent: 3},
		StatusChanged{TaskID: "t", Text: "b"},
		StatusChanged{TaskID: "t", Text: "c"},
		ProgressChanged{TaskID: "t", Percent: 4},
		RunningChanged{TaskID: "t", Running: false},
	}, rec.all())
}

func TestChannelNeverCoalescesStatus(t *testing.T) {
	c := NewChannel(true, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(rec.add)

	for _, s := range []string{"x", "y", "z"} {
		c.Publish(StatusChanged{TaskID: "t", Text: s})
	}
	c.Start()
	c.Close()
	drain(t, c)

	assert.Len(t, rec.all(), 3)
}

func TestChannelPublishAfterCloseIsDropped(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(rec.add)
	c.Start()
	c.Publish(StatusChanged{TaskID: "t", Text: "kept"})
	c.Close()
	c.Publish(StatusChanged{TaskID: "t", Text: "dropped"})
	drain(t, c)

	assert.Equal(t, []Notification{StatusChanged{TaskID: "t", Text: "kept"}}, rec.all())
}

func TestChannelCloseWithoutStart(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	c.Close()
	c.Close()
	drain(t, c)
}

func TestChannelStartAfterClose(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(rec.add)
	c.Close()
	c.Start()
	c.Publish(StatusChanged{TaskID: "t", Text: "late"})
	drain(t, c)

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	assert.False(t, started)
	assert.Empty(t, rec.all())
}

func TestChannelUnsubscribe(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	kept, removed := &recorder{}, &recorder{}
	c.Subscribe(kept.add)
	unsubscribe := c.Subscribe(removed.add)
	unsubscribe()
	unsubscribe()

	c.Publish(StatusChanged{TaskID: "t", Text: "hello"})
	c.Start()
	c.Close()
	drain(t, c)

	assert.Len(t, kept.all(), 1)
	assert.Empty(t, removed.all())
}

func TestChannelSurvivesSubscriberPanic(t *testing.T) {
	c := NewChannel(false, zerolog.Nop())
	rec := &recorder{}
	c.Subscribe(func(n Notification) {
		if n.Property() == PropertyStatus {
			panic("bad subscriber")
		}
	})
	c.Subscribe(rec.add)
	c.Start()

	c.Publish(StatusChanged{TaskID: "t", Text: "boom"})
	c.Publish(RunningChanged{TaskID: "t", Running: false})
	c.Close()
	drain(t, c)

	assert.Len(t, rec.all(), 2)
}

func TestNotificationProperties(t *testing.T) {
	cases := []struct {
		n        Notification
		property Property
		terminal bool
	}{
		{RunningChanged{TaskID: "abc", Running: true}, PropertyRunning, false},
		{RunningChanged{TaskID: "abc", Running: false}, PropertyRunning, true},
		{StatusChanged{TaskID: "abc", Text: "x"}, PropertyStatus, false},
		{ProgressChanged{TaskID: "abc", Percent: 5}, PropertyProgress, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.property, tc.n.Property(), tc.n.String())
		assert.Equal(t, tc.terminal, IsTerminal(tc.n), tc.n.String())
		assert.Equal(t, "abc", tc.n.Source())
	}
}
