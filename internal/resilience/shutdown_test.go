package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_RequestFlag(t *testing.T) {
	s := NewShutdown(nil)
	assert.False(t, s.Requested())

	s.Request()
	s.Request()
	assert.True(t, s.Requested())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestShutdown_CleanupIsolatesFailures(t *testing.T) {
	s := NewShutdown(nil)
	var ran []string
	boom := errors.New("flush failed")

	s.RegisterCleanup("close-positions", func(context.Context) error {
		ran = append(ran, "close-positions")
		return nil
	})
	s.RegisterCleanup("flush", func(context.Context) error {
		ran = append(ran, "flush")
		return boom
	})
	s.RegisterCleanup("panics", func(context.Context) error {
		panic("nil pool")
	})
	s.RegisterCleanup("close-db", func(context.Context) error {
		ran = append(ran, "close-db")
		return nil
	})

	err := s.ExecuteCleanup(context.Background())
	assert.Equal(t, []string{"close-positions", "flush", "close-db"}, ran)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "panics: cleanup panic: nil pool")
}

func TestShutdown_NoTasks(t *testing.T) {
	assert.NoError(t, NewShutdown(nil).ExecuteCleanup(context.Background()))
}
