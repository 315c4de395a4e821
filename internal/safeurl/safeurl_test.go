package safeurl

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs   map[string][]net.IPAddr
	err     error
	lookups int
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[host], nil
}

func addr(s string) net.IPAddr {
	return net.IPAddr{IP: net.ParseIP(s)}
}

func TestCheckSchemes(t *testing.T) {
	t.Parallel()

	c := New(&fakeResolver{addrs: map[string][]net.IPAddr{"example.com": {addr("93.184.216.34")}}})

	require.NoError(t, c.Check(context.Background(), "https://example.com/page"))
	require.ErrorIs(t, c.Check(context.Background(), "ftp://example.com/file"), ErrBlockedHost)
	require.ErrorIs(t, c.Check(context.Background(), "file:///etc/passwd"), ErrBlockedHost)
}

func TestCheckLiteralHosts(t *testing.T) {
	t.Parallel()

	c := New(&fakeResolver{})

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://[fe80::1]/",
	} {
		require.ErrorIs(t, c.Check(context.Background(), raw), ErrBlockedHost, raw)
	}

	require.NoError(t, c.Check(context.Background(), "http://93.184.216.34/"))
}

func TestCheckResolvedPrivate(t *testing.T) {
	t.Parallel()

	c := New(&fakeResolver{addrs: map[string][]net.IPAddr{
		"internal.example": {addr("93.184.216.34"), addr("10.0.0.5")},
		"public.example":   {addr("93.184.216.34")},
	}})

	require.ErrorIs(t, c.Check(context.Background(), "https://internal.example/"), ErrBlockedHost)
	require.NoError(t, c.Check(context.Background(), "https://public.example/"))
}

func TestCheckResolutionFailureBlocks(t *testing.T) {
	t.Parallel()

	c := New(&fakeResolver{err: errors.New("nxdomain")})
	require.ErrorIs(t, c.Check(context.Background(), "https://missing.example/"), ErrBlockedHost)
}

func TestCheckMemoizesLookups(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{"example.com": {addr("93.184.216.34")}}}
	c := New(resolver)

	require.NoError(t, c.Check(context.Background(), "https://example.com/a"))
	require.NoError(t, c.Check(context.Background(), "https://example.com/b"))
	require.Equal(t, 1, resolver.lookups)
}

func TestIPv6PrefixHeuristic(t *testing.T) {
	t.Parallel()

	require.True(t, isPrivate(net.ParseIP("fd12:3456::1")))
	require.True(t, isPrivate(net.ParseIP("fc00::1")))
	require.True(t, isPrivate(net.ParseIP("fe80::1")))
	require.False(t, isPrivate(net.ParseIP("2606:2800:220:1::1")))
}
