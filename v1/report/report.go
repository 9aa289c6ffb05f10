// Package report persists harness reports so that runs can be compared later
// or collected from several machines.
package report

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mirkobrombin/go-spin/v1/harness"
)

// ErrNotFound is returned by Load for an unknown report id.
var ErrNotFound = errors.New("report not found")

// Store saves and loads harness reports by id.
type Store interface {
	Save(ctx context.Context, rep *harness.Report) error
	Load(ctx context.Context, id string) (*harness.Report, error)
}

// Codec defines methods for encoding and decoding stored reports.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
