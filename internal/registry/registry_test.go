package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerWithName(t *testing.T) {
	server, err := ParseServer("myserver:ubuntu@192.168.1.10", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "myserver", server.Name)
	assert.Equal(t, "ubuntu", server.User)
	assert.Equal(t, "192.168.1.10", server.Host)
	assert.False(t, server.Local())
}

func TestParseServerWithoutName(t *testing.T) {
	server, err := ParseServer("admin@192.168.1.20", "localhost")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", server.Name)
	assert.Equal(t, "admin", server.User)
	assert.Equal(t, "192.168.1.20", server.Host)
}

func TestParseServerLocalAlias(t *testing.T) {
	for _, entry := range []string{"local", "localhost", "nas:local", "nas:localhost"} {
		server, err := ParseServer(entry, "home")
		require.NoError(t, err, entry)
		assert.True(t, server.Local(), entry)
		assert.Equal(t, "local", server.DisplayHost(), entry)
	}

	named, err := ParseServer("nas:local", "home")
	require.NoError(t, err)
	assert.Equal(t, "nas", named.Name)

	bare, err := ParseServer("local", "home")
	require.NoError(t, err)
	assert.Equal(t, "home", bare.Name)
}

func TestParseServerMalformed(t *testing.T) {
	for _, entry := range []string{"justahost", "name:nohost", "name:@host", "name:user@"} {
		_, err := ParseServer(entry, "localhost")
		var malformed *MalformedSpecError
		assert.True(t, errors.As(err, &malformed), "entry %q should be malformed", entry)
	}
}

func TestRegistryParsePreservesOrder(t *testing.T) {
	r, err := Parse("web:ubuntu@10.0.0.1, db:admin@10.0.0.2,nas:local", "localhost")
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	all := r.All()
	assert.Equal(t, []string{"web", "db", "nas"}, []string{all[0].Name, all[1].Name, all[2].Name})
	assert.Equal(t, []string{"db", "nas", "web"}, r.Names())
}

func TestRegistryDuplicateNameOverrides(t *testing.T) {
	r, err := Parse("web:ubuntu@10.0.0.1,web:admin@10.0.0.9", "localhost")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	server, err := r.Resolve("web")
	require.NoError(t, err)
	assert.Equal(t, "admin", server.User)
	assert.Equal(t, "10.0.0.9", server.Host)
}

func TestResolveByName(t *testing.T) {
	r, err := Parse("web:ubuntu@10.0.0.1", "localhost")
	require.NoError(t, err)

	server, err := r.Resolve("web")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu@10.0.0.1", server.DisplayHost())

	// Lookup is case-sensitive
	_, err = r.Resolve("Web")
	var unknown *UnknownServerError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Web", unknown.Name)
}

func TestResolveLocalAlwaysSucceeds(t *testing.T) {
	r, err := Parse("web:ubuntu@10.0.0.1", "localhost")
	require.NoError(t, err)

	for _, alias := range []string{"local", "localhost"} {
		server, err := r.Resolve(alias)
		require.NoError(t, err, alias)
		assert.True(t, server.Local(), alias)
	}
}

func TestResolveAdHocSpec(t *testing.T) {
	r, err := Parse("", "localhost")
	require.NoError(t, err)

	server, err := r.Resolve("edge:pi@edge.lan")
	require.NoError(t, err)
	assert.Equal(t, "edge", server.Name)
	assert.Equal(t, "pi@edge.lan", server.DisplayHost())
}

func TestResolveListMixed(t *testing.T) {
	r, err := Parse("web:ubuntu@10.0.0.1,db:admin@10.0.0.2", "localhost")
	require.NoError(t, err)

	servers, err := r.ResolveList("db,local,edge:pi@edge.lan")
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "db", servers[0].Name)
	assert.True(t, servers[1].Local())
	assert.Equal(t, "edge", servers[2].Name)
}
