package storageadapter

import (
	"context"

	"github.com/fabricmesh/inference-session-core/internal/cryptox"
)

// EncryptingStore wraps a Store so every blob is sealed at rest under a
// passphrase derived from the caller's identity (the storage seed for
// user-owned blobs, a host's operator passphrase for host-signed deltas,
// per §6.4's last paragraph). List passes through unencrypted, since paths
// themselves carry no plaintext payload.
type EncryptingStore struct {
	inner      Store
	passphrase string
}

func NewEncryptingStore(inner Store, passphrase string) *EncryptingStore {
	return &EncryptingStore{inner: inner, passphrase: passphrase}
}

func (e *EncryptingStore) Put(ctx context.Context, path string, data []byte) error {
	sealed, err := cryptox.SealAtRest(e.passphrase, data)
	if err != nil {
		return err
	}
	return e.inner.Put(ctx, path, cryptox.MarshalSealedBlob(sealed))
}

func (e *EncryptingStore) Get(ctx context.Context, path string) ([]byte, error) {
	raw, err := e.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	sealed, err := cryptox.UnmarshalSealedBlob(raw)
	if err != nil {
		return nil, err
	}
	return cryptox.OpenAtRest(e.passphrase, sealed)
}

func (e *EncryptingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return e.inner.List(ctx, prefix)
}

func (e *EncryptingStore) Delete(ctx context.Context, path string) error {
	return e.inner.Delete(ctx, path)
}
