package storage

import "errors"

var errBuiltinPolicy = errors.New("cannot delete built-in policy")
