package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	o := Operation{
		OpID:       "op-1",
		HLCTime:    1756166400000000000,
		HLCCounter: 3,
		NodeID:     "node-a",
		Table:      "tasks",
		Kind:       KindInsert,
		PrimaryKey: "task-7",
		Payload:    []byte("INSERT INTO tasks (id, title) VALUES ('task-7', 'write docs')"),
		Columns:    []string{"id", "title"},
	}

	frame, err := Encode(o)
	require.NoError(t, err)

	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestDecode_RejectsShortFrame(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {frameMagic}} {
		_, err := Decode(data)
		require.ErrorIs(t, err, ErrMalformedFrame)
	}
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	frame, err := Encode(Operation{NodeID: "n", Table: "t", Kind: KindInsert})
	require.NoError(t, err)
	frame[0] = 0x00

	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_RejectsUnknownVersion(t *testing.T) {
	frame, err := Encode(Operation{NodeID: "n", Table: "t", Kind: KindInsert})
	require.NoError(t, err)
	frame[1] = 99

	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_RejectsCorruptBody(t *testing.T) {
	frame := []byte{frameMagic, frameVersion, 0xff, 0xff, 0xff, 0xff}
	_, err := Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_RejectsTruncatedFrame(t *testing.T) {
	frame, err := Encode(Operation{
		NodeID: "node-a", Table: "tasks", Kind: KindUpdate,
		Payload: []byte("UPDATE tasks SET done = 1 WHERE id = 'x'"),
	})
	require.NoError(t, err)

	_, err = Decode(frame[:len(frame)/2])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_RejectsMissingIdentity(t *testing.T) {
	frame, err := Encode(Operation{Table: "tasks", Kind: KindInsert})
	require.NoError(t, err)

	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_RejectsBadKind(t *testing.T) {
	frame, err := Encode(Operation{NodeID: "n", Table: "t", Kind: WriteKind(42)})
	require.NoError(t, err)

	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestWriteKind_RoundTrip(t *testing.T) {
	for _, k := range []WriteKind{KindInsert, KindUpdate, KindDelete} {
		got, err := ParseWriteKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseWriteKind("truncate")
	assert.Error(t, err)
}
