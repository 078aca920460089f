package lsm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	"github.com/anthanhphan/gosdk/logger"
)

// indexEntry locates the newest version of a key and caches what anti-entropy
// needs without touching disk.
type indexEntry struct {
	segmentID uint64
	offset    int64
	size      int64
	version   version.Version
	digest    merkle.Hash
	tombstone bool
	partition int
	leaf      int
}

type bucket struct {
	partition int
	leaf      int
}

// Store implements port.RecordRepository using segmented append-only logs
// and an in-memory index.
type Store struct {
	indexMu      sync.RWMutex
	fileMu       sync.Mutex
	compactionMu sync.Mutex
	listenerMu   sync.RWMutex

	dirPath             string
	activeFile          *os.File
	activeFileID        uint64
	maxSegmentSize      int64
	fsync               bool
	compactionThreshold int
	layout              shard.Layout

	index     map[string]indexEntry
	buckets   map[bucket]map[string]struct{}
	listeners []func(domain.Record)
}

const (
	// DefaultMaxSegmentSize is 64MB
	DefaultMaxSegmentSize = 64 * 1024 * 1024
	SegmentPrefix         = "segment_"
	SegmentSuffix         = ".log"

	// Entry format: KeyLen (4) | Key (N) | DataLen (4) | Data (M) | CRC32(Data) (4)
	entryOverhead = 12
	maxKeyLen     = 1024 * 1024
	maxDataLen    = domain.MaxValueSize + domain.MaxKeySize + 64*1024
)

var errStoreClosed = errors.New("storage closed")

var _ port.RecordRepository = (*Store)(nil)

// Open initializes the storage engine and replays every segment.
func Open(cfg config.StorageConfig, layout shard.Layout) (*Store, error) {
	dir := filepath.Join(cfg.DataDir, "records")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	maxSegment := int64(cfg.MaxSegmentSizeMB) * 1024 * 1024
	if maxSegment <= 0 {
		maxSegment = DefaultMaxSegmentSize
	}

	s := &Store{
		dirPath:             filepath.Clean(dir),
		maxSegmentSize:      maxSegment,
		fsync:               cfg.FSync,
		compactionThreshold: cfg.CompactionThreshold,
		layout:              layout,
		index:               make(map[string]indexEntry),
		buckets:             make(map[bucket]map[string]struct{}),
	}

	if err := s.replayLogs(); err != nil {
		return nil, fmt.Errorf("failed to replay logs: %w", err)
	}
	return s, nil
}

func (s *Store) getSegmentPath(id uint64) string {
	return filepath.Join(s.dirPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix))
}

func (s *Store) openActiveFileLocked() error {
	if s.activeFileID == 0 {
		s.activeFileID = 1
	}
	// G304: path is built from the data dir and a segment ID
	file, err := os.OpenFile(s.getSegmentPath(s.activeFileID), os.O_RDWR|os.O_CREATE, 0600) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return err
	}
	s.activeFile = file
	return nil
}

func (s *Store) segmentIDs() ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(s.dirPath, SegmentPrefix+"*"+SegmentSuffix))
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, m := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(m), SegmentPrefix+"%d"+SegmentSuffix, &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// replayLogs rebuilds the index from every segment. Entries are applied by
// version, so the order segments are read in does not matter.
func (s *Store) replayLogs() error {
	ids, err := s.segmentIDs()
	if err != nil {
		return err
	}

	s.activeFileID = 1
	for _, id := range ids {
		if err := s.replaySegment(id); err != nil {
			return err
		}
		s.activeFileID = id
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.openActiveFileLocked()
}

func (s *Store) replaySegment(id uint64) error {
	path := s.getSegmentPath(id)
	file, err := os.OpenFile(path, os.O_RDWR, 0600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	offset := int64(0)
	truncated := false
	replayed := 0

	for {
		key, data, size, err := readEntry(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warnw("Invalid segment entry during replay", "segment_id", id, "offset", offset, "error", err.Error())
			truncated = true
			break
		}

		record, err := domain.DecodeRecord(data)
		if err != nil || !bytes.Equal(record.Key.Encode(), key) {
			logger.Warnw("Undecodable record during replay", "segment_id", id, "offset", offset)
			truncated = true
			break
		}

		s.indexLocked(record, id, offset, size)
		offset += size
		replayed++
	}

	if truncated {
		if err := file.Truncate(offset); err != nil {
			return fmt.Errorf("failed to truncate partial segment %d: %w", id, err)
		}
		logger.Warnw("Truncated partial segment tail during replay", "segment_id", id, "valid_bytes", offset)
	}
	logger.Debugw("Segment replayed", "segment_id", id, "entries", replayed)
	return nil
}

// readEntry reads one entry and verifies its checksum. A clean end of file
// returns io.EOF; anything partial or corrupt returns another error.
func readEntry(r io.Reader) (key, data []byte, size int64, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, nil, 0, io.EOF
		}
		return nil, nil, 0, fmt.Errorf("failed to read key len: %w", err)
	}
	keyLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if keyLen <= 0 || keyLen > maxKeyLen {
		return nil, nil, 0, fmt.Errorf("invalid key len %d", keyLen)
	}
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read key: %w", err)
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read data len: %w", err)
	}
	dataLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if dataLen > maxDataLen {
		return nil, nil, 0, fmt.Errorf("invalid data len %d", dataLen)
	}
	data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read data: %w", err)
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read checksum: %w", err)
	}
	if crc32.ChecksumIEEE(data) != binary.BigEndian.Uint32(lenBuf[:]) {
		return nil, nil, 0, domain.ErrInvalidChecksum
	}
	return key, data, entryOverhead + keyLen + dataLen, nil
}

func encodeEntry(key, data []byte) []byte {
	buf := make([]byte, 0, entryOverhead+len(key)+len(data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(key)))  // #nosec G115
	buf = append(buf, key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data))) // #nosec G115
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(data))
}

// indexLocked installs record if it is newer than what the index holds.
// Callers hold fileMu, or run before the store is shared.
func (s *Store) indexLocked(record domain.Record, segmentID uint64, offset, size int64) bool {
	k := string(record.Key.Encode())

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if current, ok := s.index[k]; ok && !version.Newer(record.Version, current.version) {
		return false
	}

	token := record.Key.Token()
	b := bucket{partition: s.layout.Partition(token), leaf: s.layout.Leaf(token)}
	s.index[k] = indexEntry{
		segmentID: segmentID,
		offset:    offset,
		size:      size,
		version:   record.Version,
		digest:    record.Digest(),
		tombstone: record.Tombstone,
		partition: b.partition,
		leaf:      b.leaf,
	}
	keys, ok := s.buckets[b]
	if !ok {
		keys = make(map[string]struct{})
		s.buckets[b] = keys
	}
	keys[k] = struct{}{}
	return true
}

// Apply appends the record when it is newer than the stored version.
func (s *Store) Apply(ctx context.Context, record domain.Record) (bool, error) {
	if err := record.Validate(); err != nil {
		return false, err
	}
	key := record.Key.Encode()
	if len(key) > maxKeyLen {
		return false, domain.ErrKeyTooLarge
	}

	s.fileMu.Lock()

	s.indexMu.RLock()
	current, exists := s.index[string(key)]
	s.indexMu.RUnlock()
	if exists && !version.Newer(record.Version, current.version) {
		s.fileMu.Unlock()
		return false, nil
	}

	if s.activeFile == nil {
		s.fileMu.Unlock()
		return false, errStoreClosed
	}

	offset, err := s.activeFile.Seek(0, io.SeekEnd)
	if err != nil {
		s.fileMu.Unlock()
		return false, err
	}
	entry := encodeEntry(key, domain.EncodeRecord(record))
	if _, err := s.activeFile.Write(entry); err != nil {
		s.fileMu.Unlock()
		return false, fmt.Errorf("failed to append record: %w", err)
	}
	if s.fsync {
		_ = s.activeFile.Sync()
	}

	s.indexLocked(record, s.activeFileID, offset, int64(len(entry)))
	s.rotateLocked(offset + int64(len(entry)))
	s.fileMu.Unlock()

	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(record)
	}
	return true, nil
}

// rotateLocked starts a new segment once the active one is full.
func (s *Store) rotateLocked(size int64) {
	if size <= s.maxSegmentSize {
		return
	}
	_ = s.activeFile.Close()
	s.activeFile = nil
	s.activeFileID++
	if err := s.openActiveFileLocked(); err != nil {
		logger.Errorw("Failed to rotate segment", "segment_id", s.activeFileID, "error", err.Error())
		return
	}

	ids, err := s.segmentIDs()
	if err == nil && s.compactionThreshold > 0 && len(ids) > s.compactionThreshold {
		go func() {
			if err := s.Compact(); err != nil {
				logger.Warnw("Background compaction failed", "error", err.Error())
			}
		}()
	}
}

// Get returns the stored record for key, tombstones included.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	k := string(key.Encode())
	for attempt := 0; ; attempt++ {
		s.indexMu.RLock()
		entry, exists := s.index[k]
		s.indexMu.RUnlock()
		if !exists {
			return domain.Record{}, domain.ErrKeyNotFound
		}
		record, err := s.readRecord(entry)
		// Compaction may have moved the entry between lookup and read.
		if errors.Is(err, os.ErrNotExist) && attempt == 0 {
			continue
		}
		return record, err
	}
}

func (s *Store) readRaw(entry indexEntry) ([]byte, error) {
	f, err := os.Open(s.getSegmentPath(entry.segmentID)) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if entry.size < entryOverhead || entry.size > entryOverhead+maxKeyLen+maxDataLen {
		return nil, fmt.Errorf("invalid entry size %d", entry.size)
	}
	raw := make([]byte, entry.size)
	if _, err := f.ReadAt(raw, entry.offset); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Store) readRecord(entry indexEntry) (domain.Record, error) {
	raw, err := s.readRaw(entry)
	if err != nil {
		return domain.Record{}, err
	}
	_, data, _, err := readEntry(bytes.NewReader(raw))
	if err != nil {
		return domain.Record{}, err
	}
	return domain.DecodeRecord(data)
}

// LeafEntries returns digests of every key in a leaf bucket, sorted by key.
func (s *Store) LeafEntries(ctx context.Context, partition, leaf int) ([]domain.KeyDigest, error) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	keys := s.buckets[bucket{partition: partition, leaf: leaf}]
	out := make([]domain.KeyDigest, 0, len(keys))
	for k := range keys {
		entry := s.index[k]
		key, err := domain.DecodeKey([]byte(k))
		if err != nil {
			continue
		}
		out = append(out, domain.KeyDigest{
			Key:       key,
			Version:   entry.version,
			Digest:    entry.digest,
			Tombstone: entry.tombstone,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key.Encode(), out[j].Key.Encode()) < 0
	})
	return out, nil
}

// Scan returns live records of a namespace with a key prefix. This is a
// linear walk of the index.
func (s *Store) Scan(ctx context.Context, namespace string, prefix []byte, limit int) ([]domain.Record, error) {
	want := domain.NewKey(namespace, prefix).Encode()

	s.indexMu.RLock()
	var matched []string
	for k, entry := range s.index {
		if !entry.tombstone && bytes.HasPrefix([]byte(k), want) {
			matched = append(matched, k)
		}
	}
	s.indexMu.RUnlock()

	sort.Strings(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]domain.Record, 0, len(matched))
	for _, k := range matched {
		s.indexMu.RLock()
		entry, ok := s.index[k]
		s.indexMu.RUnlock()
		if !ok {
			continue
		}
		record, err := s.readRecord(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", k, err)
		}
		if record.Tombstone {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// OnApply registers fn to run after each applied record.
func (s *Store) OnApply(fn func(domain.Record)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) Len() int {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return len(s.index)
}

// Close closes the active segment.
func (s *Store) Close() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.activeFile == nil {
		return nil
	}
	_ = s.activeFile.Sync()
	err := s.activeFile.Close()
	s.activeFile = nil
	return err
}

// Compact rewrites the newest entry of every key into fresh segments and
// deletes segments nothing references any more. Tombstones are kept so
// anti-entropy cannot resurrect deleted keys.
func (s *Store) Compact() error {
	s.compactionMu.Lock()
	defer s.compactionMu.Unlock()

	// Rotate the active segment so new writes land outside the compaction snapshot.
	s.fileMu.Lock()
	if s.activeFile == nil {
		s.fileMu.Unlock()
		return errStoreClosed
	}
	_ = s.activeFile.Sync()
	_ = s.activeFile.Close()
	s.activeFile = nil
	oldActiveID := s.activeFileID
	s.activeFileID++
	if err := s.openActiveFileLocked(); err != nil {
		s.fileMu.Unlock()
		return fmt.Errorf("failed to open new active file during compaction: %w", err)
	}
	s.fileMu.Unlock()

	logger.Infow("Compaction started", "max_segment_id", oldActiveID)

	compactPath := filepath.Join(s.dirPath, "compact")
	if err := os.MkdirAll(compactPath, 0750); err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(compactPath) }()

	s.indexMu.RLock()
	snapshot := make(map[string]indexEntry)
	for k, entry := range s.index {
		if entry.segmentID <= oldActiveID {
			snapshot[k] = entry
		}
	}
	s.indexMu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	compactSegment := func(id uint64) string {
		return filepath.Clean(filepath.Join(compactPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix)))
	}

	newIndex := make(map[string]indexEntry, len(snapshot))
	curID := uint64(1)
	f, err := os.OpenFile(compactSegment(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return err
	}

	offset := int64(0)
	for _, k := range keys {
		entry := snapshot[k]
		raw, err := s.readRaw(entry)
		if err != nil {
			logger.Warnw("Compaction skipped unreadable entry", "segment_id", entry.segmentID, "error", err.Error())
			continue
		}
		if _, err := f.Write(raw); err != nil {
			_ = f.Close()
			return err
		}

		entry.segmentID = curID
		entry.offset = offset
		newIndex[k] = entry
		offset += int64(len(raw))

		if offset > s.maxSegmentSize {
			if err := f.Close(); err != nil {
				return err
			}
			curID++
			f, err = os.OpenFile(compactSegment(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
			if err != nil {
				return err
			}
			offset = 0
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.fileMu.Lock()
	s.indexMu.Lock()

	// Move compacted segments to permanent IDs above the active segment.
	remap := make(map[uint64]uint64)
	nextSegmentID := s.activeFileID + 1
	for tempID := uint64(1); tempID <= curID; tempID++ {
		destID := nextSegmentID
		nextSegmentID++
		if err := os.Rename(compactSegment(tempID), s.getSegmentPath(destID)); err != nil {
			s.indexMu.Unlock()
			s.fileMu.Unlock()
			return err
		}
		remap[tempID] = destID
	}
	// The active segment must stay the highest so appends follow the newest data.
	if _, err := os.Stat(s.getSegmentPath(s.activeFileID)); err == nil {
		_ = s.activeFile.Close()
		s.activeFile = nil
		if err := os.Rename(s.getSegmentPath(s.activeFileID), s.getSegmentPath(nextSegmentID)); err != nil {
			s.indexMu.Unlock()
			s.fileMu.Unlock()
			return err
		}
		oldActive := s.activeFileID
		s.activeFileID = nextSegmentID
		for k, live := range s.index {
			if live.segmentID == oldActive {
				live.segmentID = s.activeFileID
				s.index[k] = live
			}
		}
		if err := s.openActiveFileLocked(); err != nil {
			s.indexMu.Unlock()
			s.fileMu.Unlock()
			return err
		}
	}

	for k, entry := range newIndex {
		live, ok := s.index[k]
		// Keys rewritten during compaction keep their newer entry.
		if !ok || live.segmentID > oldActiveID {
			continue
		}
		entry.segmentID = remap[entry.segmentID]
		s.index[k] = entry
	}

	referenced := make(map[uint64]struct{}, len(remap)+1)
	for _, entry := range s.index {
		referenced[entry.segmentID] = struct{}{}
	}
	referenced[s.activeFileID] = struct{}{}
	live := len(s.index)

	s.indexMu.Unlock()
	s.fileMu.Unlock()

	ids, _ := s.segmentIDs()
	for _, id := range ids {
		if _, keep := referenced[id]; keep {
			continue
		}
		_ = os.Remove(s.getSegmentPath(id))
	}

	logger.Infow("Compaction finished", "compacted_segments_upto", oldActiveID, "live_keys", live)
	return nil
}
