package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionWhat(t *testing.T) {
	assert.Equal(t, "err: foo bar", Condition{Name: "err", Description: "foo bar"}.What())
	assert.Equal(t, "err", Condition{Name: "err"}.What())
	assert.Equal(t, "foo bar", Condition{Description: "foo bar"}.What())
	assert.Equal(t, "", Condition{}.What())
}

func TestConditionEmpty(t *testing.T) {
	assert.True(t, Condition{}.Empty())
	assert.False(t, Condition{Name: "err"}.Empty())
	assert.False(t, Condition{Description: "d"}.Empty())
}

func TestConditionAsError(t *testing.T) {
	var err error = Condition{Name: "shutdown", Description: "stop broker"}
	assert.EqualError(t, err, "shutdown: stop broker")
}
