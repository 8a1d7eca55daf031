package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/auth"
)

type stamp struct {
	userID int64
	at     time.Time
}

type chanSink struct {
	ch  chan stamp
	err error
}

func (s chanSink) EnqueueTouchLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.ch <- stamp{userID, at}
	return s.err
}

func (s chanSink) TouchLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.ch <- stamp{userID, at}
	return s.err
}

func TestRecordersDoNotBlock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sinks := []struct {
		name  string
		sink  chanSink
		touch func(chanSink) func(int64, time.Time)
	}{
		{"queue", chanSink{ch: make(chan stamp, 1)}, func(s chanSink) func(int64, time.Time) { return auth.NewQueueRecorder(s, nil).Touch }},
		{"direct", chanSink{ch: make(chan stamp, 1), err: errors.New("db down")}, func(s chanSink) func(int64, time.Time) { return auth.NewDirectRecorder(s, nil).Touch }},
	}
	for _, tc := range sinks {
		t.Run(tc.name, func(t *testing.T) {
			tc.touch(tc.sink)(5, at)
			select {
			case got := <-tc.sink.ch:
				require.Equal(t, stamp{5, at}, got)
			case <-time.After(time.Second):
				t.Fatal("recorder never wrote")
			}
		})
	}
}
