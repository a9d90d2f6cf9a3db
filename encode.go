package streamz

import (
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeSequence serializes a sequence using msgpack encoding.
// This is the format Export produces.
func EncodeSequence(seq Sequence) ([]byte, error) {
	return msgpack.Marshal(seq)
}

// DecodeSequence deserializes a msgpack-encoded sequence.
// A nil encoding decodes to an empty sequence.
func DecodeSequence(data []byte) (Sequence, error) {
	var seq Sequence
	if err := msgpack.Unmarshal(data, &seq); err != nil {
		return nil, err
	}
	if seq == nil {
		seq = Sequence{}
	}
	return seq, nil
}

// Decode creates a Stream over a sequence produced by Export or EncodeSequence.
func Decode(data []byte) (*Stream, error) {
	seq, err := DecodeSequence(data)
	if err != nil {
		return nil, err
	}
	return FromSequence(seq), nil
}
