package main

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvdevSourceDispatchDrainsPending(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := newEvdevSource(logger)

	s.events <- fakeEvent{path: "/sys/a"}
	s.events <- fakeEvent{path: "/sys/b"}
	s.events <- fakeEvent{path: "/sys/c"}

	require.NoError(t, s.Dispatch())

	var paths []string
	for {
		ev, ok := s.NextEvent()
		if !ok {
			break
		}
		p, err := ev.DevicePath()
		require.NoError(t, err)
		paths = append(paths, p)
	}
	assert.Equal(t, []string{"/sys/a", "/sys/b", "/sys/c"}, paths)

	_, ok := s.NextEvent()
	assert.False(t, ok, "pending queue is exhausted")
}

func TestEvdevSourceDispatchFailsWhenClosed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := newEvdevSource(logger)

	close(s.events)
	assert.ErrorIs(t, s.Dispatch(), errSourceClosed)
}
