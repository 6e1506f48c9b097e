package internal

import "github.com/cockroachdb/errors"

func WithStacks[T any](t T, err error) (T, error) {
	if err == nil {
		return t, nil
	}
	//nolint:wrapcheck
	return t, errors.WithStackDepth(err, 1)
}
