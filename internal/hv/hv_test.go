package hv

import (
	"testing"

	"github.com/grovetools/virtsession/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"test:///default", "test"},
		{"qemu+ssh://host-a/system", "qemu"},
		{"docker:///var/run/docker.sock", "docker"},
		{"DOCKER://10.0.0.5:2375", "docker"},
		{"not a uri", ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, Scheme(tt.uri))
		})
	}
}

func TestIsRemoteURI(t *testing.T) {
	assert.False(t, IsRemoteURI("test:///default"))
	assert.False(t, IsRemoteURI("qemu:///system"))
	assert.False(t, IsRemoteURI("docker://localhost:2375"))
	assert.True(t, IsRemoteURI("qemu+ssh://host-a/system"))
	assert.True(t, IsRemoteURI("docker://10.0.0.5:2375"))
	assert.True(t, IsRemoteURI("qemu+ssh://localhost/system"))
}

func TestBaseStateNotifies(t *testing.T) {
	var seen []State
	b := NewBase("test:///default", false, Listener{
		OnStateChanged: func(uri string, s State) {
			assert.Equal(t, "test:///default", uri)
			seen = append(seen, s)
		},
	})

	b.SetState(Connecting)
	b.SetState(Connecting)
	b.SetState(Active)
	b.SetState(Disconnected)

	assert.Equal(t, []State{Connecting, Active, Disconnected}, seen)
	assert.True(t, Disconnected.Down())
	assert.True(t, Error.Down())
	assert.False(t, Active.Down())
}

type stubDriver struct{ scheme string }

func (d stubDriver) Scheme() string { return d.scheme }
func (d stubDriver) New(uri string, readOnly bool, l Listener) (Connection, error) {
	return nil, nil
}

func TestFactory(t *testing.T) {
	f := NewFactory(stubDriver{"test"}, stubDriver{"docker"})
	assert.Equal(t, []string{"docker", "test"}, f.Schemes())

	_, err := f.New("test:///default", false, Listener{})
	require.NoError(t, err)

	_, err = f.New("xen:///", false, Listener{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnsupported))
}
