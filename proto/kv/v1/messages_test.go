package kvv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestPutRequest_WireRoundTrip(t *testing.T) {
	in := &PutRequest{
		Record: &Record{
			Namespace: "maps",
			Key:       []byte("flood_map"),
			Value:     []byte("v2"),
			Checksum:  42,
			Version: &Version{
				Timestamp: 1700000000000000000,
				Origin:    "node-a",
				Vector:    []*VectorEntry{{Origin: "node-a", Counter: 2}, {Origin: "node-b", Counter: 1}},
			},
		},
		Sender: "node-a",
		Ring:   &RingStamp{Version: 7, Checksum: "abc"},
	}

	data, err := Codec{}.Marshal(in)
	require.NoError(t, err)

	out := &PutRequest{}
	require.NoError(t, Codec{}.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestChildHashes_KeepsEmptyHashesAndRootIndex(t *testing.T) {
	req := &ChildHashesRequest{Partition: 3, Indices: []uint32{0, 17, 300}}
	gotReq := &ChildHashesRequest{}
	require.NoError(t, gotReq.UnmarshalWire(req.MarshalWire()))
	assert.Equal(t, req, gotReq)

	resp := &ChildHashesResponse{Nodes: []*NodeChildren{{Index: 0, Hashes: [][]byte{{1}, {}, {3}}}}}
	gotResp := &ChildHashesResponse{}
	require.NoError(t, gotResp.UnmarshalWire(resp.MarshalWire()))
	require.Len(t, gotResp.Nodes, 1)
	assert.Len(t, gotResp.Nodes[0].Hashes, 3)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := (&KeyRef{Namespace: "ns", Key: []byte("k")}).MarshalWire()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 98, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	out := &KeyRef{}
	require.NoError(t, out.UnmarshalWire(b))
	assert.Equal(t, "ns", out.Namespace)
	assert.Equal(t, []byte("k"), out.Key)
}

func TestUnmarshal_Truncated(t *testing.T) {
	b := (&Record{Namespace: "ns", Value: []byte("value")}).MarshalWire()
	err := (&Record{}).UnmarshalWire(b[:len(b)-2])
	assert.Error(t, err)
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	_, err := Codec{}.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, new(int)))
	assert.Equal(t, "kvwire", Codec{}.Name())
}
