package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsEveryStepInOrder(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Close: func(ctx context.Context) error {
			order = append(order, name)
			return err
		}}
	}

	ok := Shutdown(step("servers", nil), step("simulator", errors.New("boom")), step("db", nil))

	assert.False(t, ok)
	assert.Equal(t, []string{"servers", "simulator", "db"}, order)
}

func TestShutdownStepsShareDeadline(t *testing.T) {
	old := Timeout
	Timeout = 50 * time.Millisecond
	t.Cleanup(func() { Timeout = old })

	var deadline time.Time
	ok := Shutdown(Step{Name: "wait", Close: func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		<-ctx.Done()
		return nil
	}})

	assert.True(t, ok)
	assert.False(t, deadline.IsZero())
}
