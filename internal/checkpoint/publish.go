package checkpoint

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/cryptox"
	"github.com/fabricmesh/inference-session-core/internal/storageadapter"
)

// Publisher runs on the host side: it stores a checkpoint delta and the
// updated index before submitting the matching proof to the chain.
// internal/supervisor does not use it; the supervisor submits proofs
// through internal/payment without publishing a delta.
type Publisher struct {
	store   storageadapter.Store
	chain   chain.Client
	hostKey *ecdsa.PrivateKey
	host    string
	log     *zap.SugaredLogger
}

func NewPublisher(store storageadapter.Store, chainClient chain.Client, hostKey *ecdsa.PrivateKey, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{
		store:   store,
		chain:   chainClient,
		hostKey: hostKey,
		host:    crypto.PubkeyToAddress(hostKey.PublicKey).Hex(),
		log:     log,
	}
}

// Publish stores delta and the updated index, then submits the matching
// on-chain proof — in that order, per §4.7's ordering requirement. sealKey
// is the AEAD key shared with the session's client (the same key the
// session engine derived via ECDH for this sessionId). If either storage
// write fails, the proof submission is never attempted.
func (p *Publisher) Publish(ctx context.Context, sessionID int64, sealKey []byte, delta CheckpointDelta, proofBlob []byte, profile chain.GasProfile) error {
	delta.SessionID = sessionID

	sealed, err := p.sealDelta(sealKey, delta)
	if err != nil {
		return fmt.Errorf("checkpoint: seal delta: %w", err)
	}

	sessionIDStr := strconv.FormatInt(sessionID, 10)
	deltaPath := storageadapter.CheckpointDeltaPath(p.host, sessionIDStr, delta.Index)
	if err := p.store.Put(ctx, deltaPath, sealed); err != nil {
		return fmt.Errorf("checkpoint: store delta: %w", err)
	}

	index, err := p.loadOrInitIndex(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("checkpoint: load index: %w", err)
	}
	index.Entries = append(index.Entries, CheckpointIndexEntry{Index: delta.Index, ProofHash: delta.ProofHash})

	signedIdx, err := p.signIndex(index)
	if err != nil {
		return fmt.Errorf("checkpoint: sign index: %w", err)
	}
	indexBytes, err := canonicalBytes(signedIdx)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal index: %w", err)
	}
	indexPath := storageadapter.CheckpointIndexPath(p.host, sessionIDStr)
	if err := p.store.Put(ctx, indexPath, indexBytes); err != nil {
		return fmt.Errorf("checkpoint: store index: %w", err)
	}

	if err := p.chain.SubmitProof(ctx, sessionID, delta.Index, delta.TokenRange.End-delta.TokenRange.Start, proofBlob, profile); err != nil {
		return fmt.Errorf("checkpoint: submit proof: %w", err)
	}

	p.log.Infow("checkpoint published", "sessionId", sessionID, "index", delta.Index)
	return nil
}

func (p *Publisher) sealDelta(sealKey []byte, delta CheckpointDelta) ([]byte, error) {
	raw, err := canonicalBytes(delta)
	if err != nil {
		return nil, err
	}
	sealed, err := cryptox.Seal(sealKey, raw, nil)
	if err != nil {
		return nil, err
	}
	sig, err := cryptox.SignEnvelope(p.hostKey, sealed)
	if err != nil {
		return nil, err
	}
	return canonicalBytes(signedDelta{Sealed: sealed, Signature: sig})
}

func (p *Publisher) loadOrInitIndex(ctx context.Context, sessionID int64) (CheckpointIndex, error) {
	path := storageadapter.CheckpointIndexPath(p.host, strconv.FormatInt(sessionID, 10))
	raw, err := p.store.Get(ctx, path)
	if errors.Is(err, storageadapter.ErrNotFound) {
		return CheckpointIndex{SessionID: sessionID, Host: p.host}, nil
	}
	if err != nil {
		return CheckpointIndex{}, err
	}

	var signed signedIndex
	if err := json.Unmarshal(raw, &signed); err != nil {
		return CheckpointIndex{}, err
	}
	return signed.Index, nil
}

func (p *Publisher) signIndex(index CheckpointIndex) (signedIndex, error) {
	raw, err := canonicalBytes(index)
	if err != nil {
		return signedIndex{}, err
	}
	sig, err := cryptox.SignEnvelope(p.hostKey, raw)
	if err != nil {
		return signedIndex{}, err
	}
	return signedIndex{Index: index, Signature: sig}, nil
}
