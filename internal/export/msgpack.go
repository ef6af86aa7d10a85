package export

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ictyield/backend/internal/aggregate"
)

// EncodeMsgpack writes the matrix with its msgpack field names.
func EncodeMsgpack(w io.Writer, m *aggregate.Matrix) error {
	enc := msgpack.NewEncoder(w)
	enc.UseCompactInts(true)
	return enc.Encode(m)
}

// DecodeMsgpack reads a matrix written by EncodeMsgpack.
func DecodeMsgpack(r io.Reader) (*aggregate.Matrix, error) {
	var m aggregate.Matrix
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
