package service

import "errors"

// ErrStoreDisabled is returned by history queries when Postgres is not
// configured.
var ErrStoreDisabled = errors.New("result store disabled")

// ErrStreamDisabled is returned by stream queries when Redis is not
// configured.
var ErrStreamDisabled = errors.New("result stream disabled")
