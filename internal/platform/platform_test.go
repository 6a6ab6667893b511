package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, platforms ...Platform) (*Registry, *BadHosts) {
	t.Helper()
	bad := NewBadHosts()
	r, err := NewRegistry(platforms, bad)
	require.NoError(t, err)
	return r, bad
}

func TestSelectDefinitionOrder(t *testing.T) {
	r, _ := testRegistry(t, Platform{Name: "p", Hosts: []string{"h1", "h2", "h3"}})

	for i := 0; i < 3; i++ {
		host, err := r.SelectHost("p")
		require.NoError(t, err)
		require.Equal(t, "h1", host)
	}

	r.SubmitFailed("p", "h1")
	host, err := r.SelectHost("p")
	require.NoError(t, err)
	require.Equal(t, "h2", host)
}

func TestSelectRoundRobin(t *testing.T) {
	r, _ := testRegistry(t, Platform{
		Name: "p", Hosts: []string{"h1", "h2"}, Selection: SelectRoundRobin,
	})

	var picked []string
	for i := 0; i < 4; i++ {
		host, err := r.SelectHost("p")
		require.NoError(t, err)
		picked = append(picked, host)
	}
	require.Equal(t, []string{"h1", "h2", "h1", "h2"}, picked)
}

func TestAllHostsBad(t *testing.T) {
	r, _ := testRegistry(t, Platform{Name: "p", Hosts: []string{"h1", "h2"}})

	r.SubmitFailed("p", "h1")
	r.SubmitFailed("p", "h2")

	_, err := r.SelectHost("p")
	require.ErrorIs(t, err, ErrNoHostsAvailable)
}

func TestBadHostScopedPerPlatform(t *testing.T) {
	// The same hostname under two platforms: exclusion on one never
	// affects the other.
	r, bad := testRegistry(t,
		Platform{Name: "p", Hosts: []string{"shared"}},
		Platform{Name: "q", Hosts: []string{"shared"}},
	)

	r.SubmitFailed("p", "shared")
	require.True(t, bad.IsBad("p", "shared"))
	require.False(t, bad.IsBad("q", "shared"))

	_, err := r.SelectHost("p")
	require.ErrorIs(t, err, ErrNoHostsAvailable)

	host, err := r.SelectHost("q")
	require.NoError(t, err)
	require.Equal(t, "shared", host)
}

func TestGoodOutcomeClearsBadHosts(t *testing.T) {
	r, bad := testRegistry(t, Platform{Name: "p", Hosts: []string{"h1", "h2"}})

	r.SubmitFailed("p", "h1")
	require.Equal(t, []string{"h1"}, bad.Bad("p"))

	// A non-host-attributable outcome re-opens previously bad hosts.
	r.GoodOutcome("p")
	require.Empty(t, bad.Bad("p"))

	host, err := r.SelectHost("p")
	require.NoError(t, err)
	require.Equal(t, "h1", host)
}

func TestRegistryValidation(t *testing.T) {
	bad := NewBadHosts()

	_, err := NewRegistry([]Platform{{Name: "p"}}, bad)
	require.Error(t, err)

	_, err = NewRegistry([]Platform{
		{Name: "p", Hosts: []string{"h"}, Selection: "random"},
	}, bad)
	require.Error(t, err)

	_, err = NewRegistry([]Platform{
		{Name: "p", Hosts: []string{"h"}},
		{Name: "p", Hosts: []string{"h"}},
	}, bad)
	require.Error(t, err)

	r, err := NewRegistry([]Platform{{Name: "p", Hosts: []string{"h"}}}, bad)
	require.NoError(t, err)
	_, err = r.SelectHost("nope")
	require.ErrorIs(t, err, ErrUnknownPlatform)
}
