package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewParamStore_Options(t *testing.T) {
	s := NewParamStore(nil, nil, WithPrefix("test:"), WithTTL(time.Hour))
	assert.Equal(t, "test:", s.prefix)
	assert.Equal(t, time.Hour, s.ttl)
}

func TestNewParamStore_Defaults(t *testing.T) {
	s := NewParamStore(nil, nil, WithTTL(-time.Hour))
	assert.Equal(t, "fepforge:param:", s.prefix)
	assert.Equal(t, defaultParamTTL, s.ttl)
}
