package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{401, KindAuthExpired},
		{403, KindAuthExpired},
		{404, KindNotFound},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindRejected},
		{422, KindRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, kindFromStatus(tt.status), "status %d", tt.status)
	}
}

func TestKindPredicatesUnwrap(t *testing.T) {
	err := fmt.Errorf("place leg: %w", NewError(KindTransient, 503, "upstream timeout"))
	assert.True(t, IsTransient(err))
	assert.False(t, IsRejected(err))

	assert.True(t, IsAuthExpired(NewError(KindAuthExpired, 401, "token expired")))
	assert.True(t, IsNotFound(NewError(KindNotFound, 404, "no such order")))
	assert.True(t, IsFatal(NewError(KindFatal, 0, "unrecoverable")))

	assert.False(t, IsTransient(fmt.Errorf("plain error")))
	assert.False(t, IsTransient(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "broker: rejected (status 400): bad order",
		NewError(KindRejected, 400, "bad order").Error())
	assert.Equal(t, "broker: fatal: boom",
		NewError(KindFatal, 0, "boom").Error())
}
