package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/shardmesh/internal/errors"
)

func TestIs(t *testing.T) {
	err := errors.New(errors.ErrAlreadyLocked, "Server is already locked")

	assert.True(t, errors.Is(err, errors.ErrAlreadyLocked))
	assert.False(t, errors.Is(err, errors.ErrHostDown))

	wrapped := errors.Wrap(err, "starting server")
	assert.True(t, errors.Is(wrapped, errors.ErrAlreadyLocked))
	assert.Equal(t, errors.ErrAlreadyLocked, errors.CodeOf(wrapped))

	assert.False(t, errors.Is(fmt.Errorf("plain"), errors.ErrAlreadyLocked))
	assert.Equal(t, errors.Code(""), errors.CodeOf(fmt.Errorf("plain")))
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already locked", errors.New(errors.ErrAlreadyLocked, "x"), true},
		{"proxy down", errors.New(errors.ErrProxyDown, "x"), true},
		{"no allocation", errors.New(errors.ErrNoAllocation, "x"), true},
		{"network setup failure", errors.New(errors.ErrNetworkSetupFailed, "x"), false},
		{"internal", errors.New(errors.ErrInternal, "x"), false},
		{"uncoded", fmt.Errorf("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.IsDisplay(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	err := errors.Wrap(errors.New(errors.ErrNotOffline, "Server is not offline"), "migrating")
	assert.Equal(t, "Server is not offline", errors.Message(err))
	assert.Equal(t, "boom", errors.Message(fmt.Errorf("boom")))
}

func TestWrapCodeKeepsRemoteStatus(t *testing.T) {
	remote := &errors.RemoteError{Kind: errors.KindProxy, StatusCode: http.StatusBadGateway, Body: "upstream"}
	err := errors.WrapCode(remote, errors.ErrNetworkSetupFailed, "Unable to add nat rule")

	assert.True(t, errors.Is(err, errors.ErrNetworkSetupFailed))
	assert.Equal(t, http.StatusBadGateway, errors.StatusCode(err))
	assert.Contains(t, err.Error(), "Unable to add nat rule")
	assert.Contains(t, err.Error(), "upstream")

	assert.Nil(t, errors.WrapCode(nil, errors.ErrMountFailed, "x"))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, errors.StatusCode(fmt.Errorf("plain")))
	assert.False(t, errors.IsStatus(nil, http.StatusNotFound))

	err := errors.Wrap(&errors.RemoteError{Kind: errors.KindDaemon, StatusCode: 404}, "deleting backup")
	assert.True(t, errors.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "daemon error: (404) ", (&errors.RemoteError{Kind: errors.KindDaemon, StatusCode: 404}).Error())
}
