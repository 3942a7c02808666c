package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	srv := New(":8080", http.NotFoundHandler())

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, defaultReadHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Equal(t, defaultIdleTimeout, srv.IdleTimeout)
	assert.Zero(t, srv.ReadTimeout)
	assert.Zero(t, srv.WriteTimeout)
}

func TestNewOptions(t *testing.T) {
	srv := New(":8080", http.NotFoundHandler(),
		WithReadHeaderTimeout(time.Second),
		WithIdleTimeout(30*time.Second),
	)

	assert.Equal(t, time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, srv.IdleTimeout)
}
