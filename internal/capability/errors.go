package capability

import "errors"

var (
	ErrNotFound      = errors.New("capability: server not found")
	ErrAtCapacity    = errors.New("capability: concurrent server cap reached")
	ErrNoMatch       = errors.New("capability: no server matches project context")
	ErrSpawnFailed   = errors.New("capability: failed to spawn server")
	ErrInvalidManifest = errors.New("capability: invalid manifest")
)
