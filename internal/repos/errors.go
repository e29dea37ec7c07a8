package repos

import "errors"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrTokenNotFound = errors.New("token not found")
)
