// Package vcs reads version-control provenance for a project directory.
package vcs

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// shortLen is the number of hex digits in an abbreviated commit hash.
const shortLen = 7

// Commit returns the abbreviated HEAD commit of the git repository that
// contains dir. It returns "" when dir is not inside a repository or the
// repository has no commits yet.
func Commit(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		// Unborn branch: no commits yet.
		return "", nil
	}
	hash := head.Hash().String()
	if len(hash) > shortLen {
		hash = hash[:shortLen]
	}
	return hash, nil
}
