package kvv1

import "google.golang.org/protobuf/encoding/protowire"

// VectorEntry is one origin counter of a version vector.
type VectorEntry struct {
	Origin  string
	Counter uint64
}

func (m *VectorEntry) MarshalWire() []byte {
	b := appendString(nil, 1, m.Origin)
	return appendVarint(b, 2, m.Counter)
}

func (m *VectorEntry) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Origin)
		case 2:
			return consumeVarint(typ, b, &m.Counter)
		}
		return 0, errSkip
	})
}

type Version struct {
	Timestamp int64
	Origin    string
	Vector    []*VectorEntry
}

func (m *Version) MarshalWire() []byte {
	b := appendVarint(nil, 1, protowire.EncodeZigZag(m.Timestamp))
	b = appendString(b, 2, m.Origin)
	for _, e := range m.Vector {
		b = appendMessage(b, 3, e)
	}
	return b
}

func (m *Version) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &m.Timestamp)
		case 2:
			return consumeString(typ, b, &m.Origin)
		case 3:
			e := &VectorEntry{}
			n, err := consumeMessage(typ, b, e)
			if err == nil && n >= 0 {
				m.Vector = append(m.Vector, e)
			}
			return n, err
		}
		return 0, errSkip
	})
}

type Record struct {
	Namespace string
	Key       []byte
	Value     []byte
	Tombstone bool
	Checksum  uint32
	Version   *Version
}

func (m *Record) MarshalWire() []byte {
	b := appendString(nil, 1, m.Namespace)
	b = appendBytes(b, 2, m.Key)
	b = appendBytes(b, 3, m.Value)
	b = appendBool(b, 4, m.Tombstone)
	b = appendVarint(b, 5, uint64(m.Checksum))
	if m.Version != nil {
		b = appendMessage(b, 6, m.Version)
	}
	return b
}

func (m *Record) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Namespace)
		case 2:
			return consumeBytes(typ, b, &m.Key)
		case 3:
			return consumeBytes(typ, b, &m.Value)
		case 4:
			return consumeBool(typ, b, &m.Tombstone)
		case 5:
			return consumeUint32(typ, b, &m.Checksum)
		case 6:
			m.Version = &Version{}
			return consumeMessage(typ, b, m.Version)
		}
		return 0, errSkip
	})
}

// RingStamp identifies the ring snapshot a node routed with.
type RingStamp struct {
	Version  uint64
	Checksum string
}

func (m *RingStamp) MarshalWire() []byte {
	b := appendVarint(nil, 1, m.Version)
	return appendString(b, 2, m.Checksum)
}

func (m *RingStamp) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarint(typ, b, &m.Version)
		case 2:
			return consumeString(typ, b, &m.Checksum)
		}
		return 0, errSkip
	})
}

// Every message that carries a RingStamp uses field 15 for it.
func appendRing(b []byte, r *RingStamp) []byte {
	if r == nil {
		return b
	}
	return appendMessage(b, 15, r)
}

func consumeRing(typ protowire.Type, b []byte, dst **RingStamp) (int, error) {
	*dst = &RingStamp{}
	return consumeMessage(typ, b, *dst)
}

type PutRequest struct {
	Record *Record
	Sender string
	Ring   *RingStamp
}

func (m *PutRequest) MarshalWire() []byte {
	var b []byte
	if m.Record != nil {
		b = appendMessage(b, 1, m.Record)
	}
	b = appendString(b, 2, m.Sender)
	return appendRing(b, m.Ring)
}

func (m *PutRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			m.Record = &Record{}
			return consumeMessage(typ, b, m.Record)
		case 2:
			return consumeString(typ, b, &m.Sender)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type PutResponse struct {
	Applied bool
	Ring    *RingStamp
}

func (m *PutResponse) MarshalWire() []byte {
	b := appendBool(nil, 1, m.Applied)
	return appendRing(b, m.Ring)
}

func (m *PutResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBool(typ, b, &m.Applied)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type GetRequest struct {
	Namespace string
	Key       []byte
	Sender    string
	Ring      *RingStamp
}

func (m *GetRequest) MarshalWire() []byte {
	b := appendString(nil, 1, m.Namespace)
	b = appendBytes(b, 2, m.Key)
	b = appendString(b, 3, m.Sender)
	return appendRing(b, m.Ring)
}

func (m *GetRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Namespace)
		case 2:
			return consumeBytes(typ, b, &m.Key)
		case 3:
			return consumeString(typ, b, &m.Sender)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type GetResponse struct {
	Found  bool
	Record *Record
	Ring   *RingStamp
}

func (m *GetResponse) MarshalWire() []byte {
	b := appendBool(nil, 1, m.Found)
	if m.Record != nil {
		b = appendMessage(b, 2, m.Record)
	}
	return appendRing(b, m.Ring)
}

func (m *GetResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBool(typ, b, &m.Found)
		case 2:
			m.Record = &Record{}
			return consumeMessage(typ, b, m.Record)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type RootHashRequest struct {
	Partition uint32
	Sender    string
	Ring      *RingStamp
}

func (m *RootHashRequest) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Partition))
	b = appendString(b, 2, m.Sender)
	return appendRing(b, m.Ring)
}

func (m *RootHashRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.Partition)
		case 2:
			return consumeString(typ, b, &m.Sender)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type RootHashResponse struct {
	Hash []byte
	Ring *RingStamp
}

func (m *RootHashResponse) MarshalWire() []byte {
	b := appendBytes(nil, 1, m.Hash)
	return appendRing(b, m.Ring)
}

func (m *RootHashResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.Hash)
		case 15:
			return consumeRing(typ, b, &m.Ring)
		}
		return 0, errSkip
	})
}

type ChildHashesRequest struct {
	Partition uint32
	Indices   []uint32
}

func (m *ChildHashesRequest) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Partition))
	if len(m.Indices) > 0 {
		var packed []byte
		for _, idx := range m.Indices {
			packed = protowire.AppendVarint(packed, uint64(idx))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func (m *ChildHashesRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.Partition)
		case 2:
			if typ == protowire.VarintType {
				var idx uint32
				n, err := consumeUint32(typ, b, &idx)
				if err == nil && n >= 0 {
					m.Indices = append(m.Indices, idx)
				}
				return n, err
			}
			if typ != protowire.BytesType {
				return 0, errSkip
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return k, nil
				}
				m.Indices = append(m.Indices, uint32(v)) // #nosec G115
				packed = packed[k:]
			}
			return n, nil
		}
		return 0, errSkip
	})
}

// NodeChildren carries the child hashes of one tree node.
type NodeChildren struct {
	Index  uint32
	Hashes [][]byte
}

func (m *NodeChildren) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Index))
	return appendRepeatedBytes(b, 2, m.Hashes)
}

func (m *NodeChildren) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.Index)
		case 2:
			return consumeRepeatedBytes(typ, b, &m.Hashes)
		}
		return 0, errSkip
	})
}

type ChildHashesResponse struct {
	Nodes []*NodeChildren
}

func (m *ChildHashesResponse) MarshalWire() []byte {
	var b []byte
	for _, n := range m.Nodes {
		b = appendMessage(b, 1, n)
	}
	return b
}

func (m *ChildHashesResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, errSkip
		}
		nc := &NodeChildren{}
		n, err := consumeMessage(typ, b, nc)
		if err == nil && n >= 0 {
			m.Nodes = append(m.Nodes, nc)
		}
		return n, err
	})
}

type LeafKeysRequest struct {
	Partition uint32
	Leaf      uint32
}

func (m *LeafKeysRequest) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Partition))
	return appendVarint(b, 2, uint64(m.Leaf))
}

func (m *LeafKeysRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.Partition)
		case 2:
			return consumeUint32(typ, b, &m.Leaf)
		}
		return 0, errSkip
	})
}

// KeyDigest is one key of a leaf bucket with its version and content digest.
type KeyDigest struct {
	Namespace string
	Key       []byte
	Version   *Version
	Digest    []byte
	Tombstone bool
}

func (m *KeyDigest) MarshalWire() []byte {
	b := appendString(nil, 1, m.Namespace)
	b = appendBytes(b, 2, m.Key)
	if m.Version != nil {
		b = appendMessage(b, 3, m.Version)
	}
	b = appendBytes(b, 4, m.Digest)
	return appendBool(b, 5, m.Tombstone)
}

func (m *KeyDigest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Namespace)
		case 2:
			return consumeBytes(typ, b, &m.Key)
		case 3:
			m.Version = &Version{}
			return consumeMessage(typ, b, m.Version)
		case 4:
			return consumeBytes(typ, b, &m.Digest)
		case 5:
			return consumeBool(typ, b, &m.Tombstone)
		}
		return 0, errSkip
	})
}

type LeafKeysResponse struct {
	Entries []*KeyDigest
	// LeafHash is the hash the peer's tree holds for the leaf.
	LeafHash []byte
}

func (m *LeafKeysResponse) MarshalWire() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = appendMessage(b, 1, e)
	}
	return appendBytes(b, 2, m.LeafHash)
}

func (m *LeafKeysResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			e := &KeyDigest{}
			n, err := consumeMessage(typ, b, e)
			if err == nil && n >= 0 {
				m.Entries = append(m.Entries, e)
			}
			return n, err
		case 2:
			return consumeBytes(typ, b, &m.LeafHash)
		}
		return 0, errSkip
	})
}

type KeyRef struct {
	Namespace string
	Key       []byte
}

func (m *KeyRef) MarshalWire() []byte {
	b := appendString(nil, 1, m.Namespace)
	return appendBytes(b, 2, m.Key)
}

func (m *KeyRef) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Namespace)
		case 2:
			return consumeBytes(typ, b, &m.Key)
		}
		return 0, errSkip
	})
}

type FetchKeysRequest struct {
	Keys []*KeyRef
}

func (m *FetchKeysRequest) MarshalWire() []byte {
	var b []byte
	for _, k := range m.Keys {
		b = appendMessage(b, 1, k)
	}
	return b
}

func (m *FetchKeysRequest) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, errSkip
		}
		k := &KeyRef{}
		n, err := consumeMessage(typ, b, k)
		if err == nil && n >= 0 {
			m.Keys = append(m.Keys, k)
		}
		return n, err
	})
}

type FetchKeysResponse struct {
	Records []*Record
}

func (m *FetchKeysResponse) MarshalWire() []byte {
	var b []byte
	for _, r := range m.Records {
		b = appendMessage(b, 1, r)
	}
	return b
}

func (m *FetchKeysResponse) UnmarshalWire(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, errSkip
		}
		r := &Record{}
		n, err := consumeMessage(typ, b, r)
		if err == nil && n >= 0 {
			m.Records = append(m.Records, r)
		}
		return n, err
	})
}
