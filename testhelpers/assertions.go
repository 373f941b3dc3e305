// Package testhelpers provides testing utilities for distsync: bare git
// remotes, an in-memory forge, a mock GitHub API and custom assertions.
package testhelpers

import (
	"sort"
	"strings"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Must is a generic helper function that panics if err is not nil,
// otherwise returns the value. This is useful for test setup code
// where errors are not expected and should halt execution immediately.
func Must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

// ExpectBranches asserts that the remote has exactly the expected branches
func ExpectBranches(t *testing.T, remote *GitRemote, expected []string) {
	t.Helper()

	expected = append([]string(nil), expected...)
	sort.Strings(expected)
	require.Equal(t, expected, remote.Branches(), "Branches do not match")
}

// ExpectCommits asserts the subjects of the newest commits of branch,
// newest first
func ExpectCommits(t *testing.T, remote *GitRemote, branch string, expected []string) {
	t.Helper()

	repo, err := gogit.PlainOpen(remote.Dir)
	require.NoError(t, err)
	iter, err := repo.Log(&gogit.LogOptions{From: remote.Head(branch).Hash})
	require.NoError(t, err)

	var subjects []string
	err = iter.ForEach(func(c *object.Commit) error {
		subjects = append(subjects, strings.SplitN(c.Message, "\n", 2)[0])
		return nil
	})
	require.NoError(t, err)

	if len(subjects) < len(expected) {
		require.Fail(t, "Not enough commits", "Expected %d commits, got %d", len(expected), len(subjects))
		return
	}
	require.Equal(t, expected, subjects[:len(expected)], "Commits do not match")
}
