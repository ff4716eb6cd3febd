package checkpoint

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/cryptox"
	"github.com/fabricmesh/inference-session-core/internal/storageadapter"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// Recoverer runs client-side, reconstructing a session's conversation from
// storage and the chain's proof log alone — exercised whenever a session
// ends without reaching the Completed state cleanly (§4.7).
type Recoverer struct {
	store storageadapter.Store
	chain chain.Client
	log   *zap.SugaredLogger
}

func NewRecoverer(store storageadapter.Store, chainClient chain.Client, log *zap.SugaredLogger) *Recoverer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recoverer{store: store, chain: chainClient, log: log}
}

// RecoverFromCheckpoints runs the six-step algorithm of §4.7. hostPub
// authenticates the index and every delta signature; sealKey is the same
// symmetric key the session engine derived via ECDH for this session.
func (r *Recoverer) RecoverFromCheckpoints(ctx context.Context, hostAddress string, sessionID int64, hostPub *ecdsa.PublicKey, sealKey []byte) (RecoveredConversation, error) {
	sessionIDStr := strconv.FormatInt(sessionID, 10)

	// Step 1: absent index means nothing was ever checkpointed.
	indexPath := storageadapter.CheckpointIndexPath(hostAddress, sessionIDStr)
	raw, err := r.store.Get(ctx, indexPath)
	if errors.Is(err, storageadapter.ErrNotFound) {
		return RecoveredConversation{}, nil
	}
	if err != nil {
		return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryDeltaFetchFailed, err)
	}

	var signed signedIndex
	if err := json.Unmarshal(raw, &signed); err != nil {
		return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaStructure, err)
	}

	// Step 2: verify the index signature against the expected host.
	indexBytes, err := canonicalBytes(signed.Index)
	if err != nil {
		return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidIndexSignature, err)
	}
	ok, err := cryptox.VerifyEnvelope(indexBytes, signed.Signature, hostPub)
	if err != nil || !ok {
		return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidIndexSignature, err)
	}

	entries := append([]CheckpointIndexEntry(nil), signed.Index.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	deltas := make([]CheckpointDelta, 0, len(entries))
	for _, entry := range entries {
		// Step 3: the on-chain proof for this index must agree with the
		// index entry before the delta is even fetched.
		proof, err := r.chain.GetProofSubmission(ctx, sessionID, entry.Index)
		if err != nil {
			return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryDeltaFetchFailed, err)
		}
		if proof.ProofHash != entry.ProofHash {
			return RecoveredConversation{}, xerrors.RecoveryErr(xerrors.RecoveryProofHashMismatch, nil)
		}

		// Step 4: fetch, verify, and decrypt the delta.
		delta, err := r.fetchDelta(ctx, hostAddress, sessionIDStr, entry, sessionID, hostPub, sealKey)
		if err != nil {
			return RecoveredConversation{}, err
		}
		deltas = append(deltas, delta)
	}

	// Step 5 & 6: merge in index order, continuing a split assistant
	// message across the delta boundary, and sum the proven token count.
	result := mergeDeltas(deltas)
	r.log.Infow("recovered conversation from checkpoints", "sessionId", sessionID, "deltas", len(deltas), "tokenCount", result.TokenCount)
	return result, nil
}

func (r *Recoverer) fetchDelta(ctx context.Context, hostAddress, sessionIDStr string, entry CheckpointIndexEntry, sessionID int64, hostPub *ecdsa.PublicKey, sealKey []byte) (CheckpointDelta, error) {
	path := storageadapter.CheckpointDeltaPath(hostAddress, sessionIDStr, entry.Index)
	raw, err := r.store.Get(ctx, path)
	if err != nil {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryDeltaFetchFailed, err)
	}

	var signed signedDelta
	if err := json.Unmarshal(raw, &signed); err != nil {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaStructure, err)
	}

	ok, err := cryptox.VerifyEnvelope(signed.Sealed, signed.Signature, hostPub)
	if err != nil || !ok {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaSignature, err)
	}

	plaintext, err := cryptox.Open(sealKey, signed.Sealed, nil)
	if err != nil {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaSignature, err)
	}

	var delta CheckpointDelta
	if err := json.Unmarshal(plaintext, &delta); err != nil {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaStructure, err)
	}
	if delta.SessionID != sessionID || delta.Index != entry.Index || delta.TokenRange.End < delta.TokenRange.Start || delta.ProofHash != entry.ProofHash {
		return CheckpointDelta{}, xerrors.RecoveryErr(xerrors.RecoveryInvalidDeltaStructure, nil)
	}
	return delta, nil
}

// mergeDeltas concatenates deltas already sorted by Index into one
// message list, joining an assistant message implicitly split across a
// checkpoint boundary rather than leaving it as two adjacent messages.
func mergeDeltas(deltas []CheckpointDelta) RecoveredConversation {
	var out RecoveredConversation
	for _, d := range deltas {
		out.TokenCount += d.TokenRange.End - d.TokenRange.Start
		for i, msg := range d.Messages {
			if i == 0 && msg.Role == "assistant" && len(out.Messages) > 0 {
				last := &out.Messages[len(out.Messages)-1]
				if last.Role == "assistant" {
					last.Content += msg.Content
					continue
				}
			}
			out.Messages = append(out.Messages, msg)
		}
	}
	return out
}
