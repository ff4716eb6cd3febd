// Package storageadapter provides a uniform path-addressed view over the
// decentralized object store the core treats as an external collaborator
// (§6.4): put/get/list/delete over content that is mutable at the
// directory-entry level even though individual blobs are content-hashed.
package storageadapter

import (
	"context"

	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// Store is the contract every backend (file-based for local hosts,
// whatever client the real decentralized store exposes in production)
// must satisfy. Writes are idempotent by content hash; directory entries
// are mutable (last-writer-wins), matching §6.4.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete is best-effort: callers should not depend on it succeeding
	// against a backend that only supports content-addressed appends.
	Delete(ctx context.Context, path string) error
}

// Canonical path helpers (§6.4). Keeping these centralized stops every
// caller from hand-formatting storage paths and drifting out of sync.
func CheckpointIndexPath(host, sessionID string) string {
	return "checkpoints/" + host + "/" + sessionID + "/index"
}

func CheckpointDeltaPath(host, sessionID string, index int64) string {
	return "checkpoints/" + host + "/" + sessionID + "/delta-" + itoa(index)
}

func SessionGroupPath(user, groupID string) string {
	return "session-groups/" + user + "/" + groupID + ".json"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ErrNotFound is returned by Get when the path has no stored value.
var ErrNotFound = xerrors.New(xerrors.KindStorage, "NotFound", "STORAGE_NOT_FOUND", "object not found", false, nil)
