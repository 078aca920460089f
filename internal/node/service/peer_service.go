package service

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
)

// peerService serves the calls other replicas make to this node.
type peerService struct {
	core *NodeServiceImpl
}

func newPeerService(core *NodeServiceImpl) *peerService {
	return &peerService{core: core}
}

// applyReplica stores record if it is newer than the local copy.
func (s *peerService) applyReplica(ctx context.Context, sender string, stamp domain.RingStamp, record domain.Record) (bool, error) {
	s.core.ring.checkStamp(sender, stamp)
	if err := record.Validate(); err != nil {
		return false, err
	}
	s.core.clock.Observe(record.Version.Timestamp)
	s.core.load.markToken(record.Key.Token())
	return s.core.store.Apply(ctx, record)
}

// readReplica returns the local copy of key, tombstones included.
func (s *peerService) readReplica(ctx context.Context, sender string, stamp domain.RingStamp, key domain.Key) (domain.Record, bool, error) {
	s.core.ring.checkStamp(sender, stamp)
	if err := key.Validate(); err != nil {
		return domain.Record{}, false, err
	}
	s.core.load.markToken(key.Token())
	record, err := s.core.store.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return record, true, nil
}

// fetchKeys returns the records for keys this node holds; missing keys are skipped.
func (s *peerService) fetchKeys(ctx context.Context, keys []domain.Key) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(keys))
	for _, key := range keys {
		record, err := s.core.store.Get(ctx, key)
		if errors.Is(err, domain.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}
