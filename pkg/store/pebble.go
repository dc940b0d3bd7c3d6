package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStore is the concrete, content-addressed Store backend. Every
// record is JSON-encoded under a key built by schema.go; atomic multi-row
// writes use a single pebble.Batch committed with pebble.Sync.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger

	seqMu sync.Mutex
}

var _ Store = (*PebbleStore)(nil)

// Open opens (or creates) a pebble database at path.
func Open(path string, readOnly bool, logger *zap.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &pebble.Options{ReadOnly: readOnly}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open pebble db: %w", err)
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func get[T any](s *PebbleStore, key []byte) (*T, error) {
	raw, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return &v, nil
}

func setJSON(batch *pebble.Batch, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Set(key, raw, nil)
}

// getRaw reads a key whose value is a plain byte string, such as the
// chain/address -> id indexes, rather than a JSON-encoded record.
func (s *PebbleStore) getRaw(key []byte) (string, error) {
	raw, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(append([]byte(nil), raw...)), nil
}

func (s *PebbleStore) GetVerifiedContractByChainAndAddress(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	id, err := s.getRaw(verifiedByChainAddrKey(chainID, address))
	if err != nil {
		return nil, err
	}
	return get[VerifiedContract](s, verifiedContractKey(id))
}

func (s *PebbleStore) InsertCode(ctx context.Context, rec CodeRecord) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, codeKey(rec.HashSHA256), rec); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertContract(ctx context.Context, c Contract) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, contractKey(c.ID), c); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertContractDeployment(ctx context.Context, d ContractDeployment) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, deploymentKey(d.ID), d); err != nil {
		return err
	}
	if err := batch.Set(deploymentByChainAddrKey(d.ChainID, d.Address), []byte(d.ID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertCompiledContract(ctx context.Context, c CompiledContract) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, compiledContractKey(c.ID), c); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertCompiledContractsSources(ctx context.Context, sources []CompiledContractSource) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, src := range sources {
		if err := setJSON(batch, compiledSourceKey(src.CompilationID, src.Path), src); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// InsertVerifiedContract persists a VerifiedContract row by itself,
// without the chain/address listing index — use InsertVerificationSnapshot
// when that index needs to stay consistent with the record.
func (s *PebbleStore) InsertVerifiedContract(ctx context.Context, v VerifiedContract) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, verifiedContractKey(v.ID), v); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertSourcifyMatch(ctx context.Context, m SourcifyMatch) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, sourcifyMatchKey(m.ID), m); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) UpdateSourcifyMatch(ctx context.Context, m SourcifyMatch) error {
	return s.InsertSourcifyMatch(ctx, m)
}

// InsertVerificationSnapshot persists every row of one successful
// verification atomically: code blobs, the contract/deployment/compilation
// rows, the verified-contract record and its sourcify summary, and the
// completed job — all in a single pebble batch, so a failure partway
// through leaves nothing durable.
func (s *PebbleStore) InsertVerificationSnapshot(ctx context.Context, snap VerificationSnapshot) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, code := range snap.Code {
		if err := setJSON(batch, codeKey(code.HashSHA256), code); err != nil {
			return err
		}
	}
	if err := setJSON(batch, contractKey(snap.Contract.ID), snap.Contract); err != nil {
		return err
	}
	if err := setJSON(batch, deploymentKey(snap.Deployment.ID), snap.Deployment); err != nil {
		return err
	}
	if err := batch.Set(deploymentByChainAddrKey(snap.Deployment.ChainID, snap.Deployment.Address), []byte(snap.Deployment.ID), nil); err != nil {
		return err
	}
	if err := setJSON(batch, compiledContractKey(snap.Compilation.ID), snap.Compilation); err != nil {
		return err
	}
	for _, src := range snap.CompilationSources {
		if err := setJSON(batch, compiledSourceKey(src.CompilationID, src.Path), src); err != nil {
			return err
		}
	}
	if err := setJSON(batch, verifiedContractKey(snap.Verified.ID), snap.Verified); err != nil {
		return err
	}
	if err := batch.Set(verifiedByChainAddrKey(snap.Deployment.ChainID, snap.Deployment.Address), []byte(snap.Verified.ID), nil); err != nil {
		return err
	}

	raw, closer, err := s.db.Get([]byte(keyVerifiedSeqCounter))
	var seq uint64
	if err == nil {
		seq = binary.BigEndian.Uint64(raw)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return err
	}
	seq++
	seqBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(keyVerifiedSeqCounter), seqBuf, nil); err != nil {
		return err
	}
	if err := batch.Set(verifiedSeqKey(snap.Deployment.ChainID, seq), []byte(snap.Verified.ID), nil); err != nil {
		return err
	}

	if err := setJSON(batch, sourcifyMatchKey(snap.SourcifyMatch.ID), snap.SourcifyMatch); err != nil {
		return err
	}
	if err := setJSON(batch, jobKey(snap.Job.ID), snap.Job); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertVerificationJob(ctx context.Context, job VerificationJob) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, jobKey(job.ID), job); err != nil {
		return err
	}
	if err := batch.Set(jobByChainAddrKey(job.ChainID, job.ContractAddress, job.ID), nil, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) UpdateVerificationJob(ctx context.Context, job VerificationJob) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := setJSON(batch, jobKey(job.ID), job); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) InsertVerificationJobEphemeral(ctx context.Context, jobID string, onchainCreation, onchainRuntime []byte, creationTxHash string) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	payload := struct {
		OnchainCreationCode []byte `json:"onchainCreationCode,omitempty"`
		OnchainRuntimeCode  []byte `json:"onchainRuntimeCode,omitempty"`
		CreationTxHash      string `json:"creationTransactionHash,omitempty"`
	}{onchainCreation, onchainRuntime, creationTxHash}
	if err := setJSON(batch, jobEphemeralKey(jobID), payload); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetVerificationJobByID(ctx context.Context, jobID string) (*VerificationJob, error) {
	return get[VerificationJob](s, jobKey(jobID))
}

func (s *PebbleStore) GetVerificationJobsByChainAndAddress(ctx context.Context, chainID uint64, address string) ([]VerificationJob, error) {
	prefix := jobByChainAddrPrefix(chainID, address)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var jobs []VerificationJob
	for iter.First(); iter.Valid(); iter.Next() {
		jobID := jobIDFromKey(iter.Key(), prefix)
		job, err := s.GetVerificationJobByID(ctx, jobID)
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, iter.Error()
}

func (s *PebbleStore) ListVerifiedContracts(ctx context.Context, chainID uint64, limit int, ascending bool, afterMatchID string) ([]VerifiedContract, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	prefix := verifiedSeqPrefix(chainID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	if ascending {
		for iter.First(); iter.Valid(); iter.Next() {
			ids = append(ids, string(iter.Value()))
		}
	} else {
		for iter.Last(); iter.Valid(); iter.Prev() {
			ids = append(ids, string(iter.Value()))
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	skip := afterMatchID != ""
	var results []VerifiedContract
	for _, id := range ids {
		if skip {
			if id == afterMatchID {
				skip = false
			}
			continue
		}
		v, err := get[VerifiedContract](s, verifiedContractKey(id))
		if err != nil {
			continue
		}
		results = append(results, *v)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

func jobIDFromKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}
