package store

import (
	"fmt"
	"regexp"
)

var (
	repoNameRe  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	paramNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidateRepoName checks a repository/deployment name. Names end up in
// container names and filesystem paths, so the charset is strict.
func ValidateRepoName(name string) error {
	if !repoNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid repository name %q", ErrInvalidInput, name)
	}
	return nil
}

// ValidateParameterName checks a parameter key. Parameters are injected as
// environment variables, so the charset follows POSIX variable names.
func ValidateParameterName(name string) error {
	if !paramNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid parameter name %q", ErrInvalidInput, name)
	}
	return nil
}
