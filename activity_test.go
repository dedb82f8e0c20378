package session_test

import (
	"context"
	"errors"
	"testing"

	session "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
)

func TestMultiActivitySink(t *testing.T) {
	var got []string
	record := func(name string, err error) session.ActivitySink {
		return session.ActivitySinkFunc(func(_ context.Context, e session.ActivityEvent) error {
			got = append(got, name+":"+string(e.EventType))
			return err
		})
	}

	first := errors.New("first")
	sink := session.MultiActivitySink{
		record("metrics", nil),
		nil,
		record("log", first),
		record("audit", errors.New("second")),
	}

	err := sink.Record(context.Background(), session.ActivityEvent{EventType: session.ActivityEventLoginSuccess})
	assert.Same(t, first, err)
	assert.Equal(t, []string{
		"metrics:" + string(session.ActivityEventLoginSuccess),
		"log:" + string(session.ActivityEventLoginSuccess),
		"audit:" + string(session.ActivityEventLoginSuccess),
	}, got)

	assert.NoError(t, session.MultiActivitySink{}.Record(context.Background(), session.ActivityEvent{}))
}
