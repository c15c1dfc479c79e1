// Package archive persists finished flow results to durable blob storage so
// hosts can audit, replay, or hand off runs after the engine forgets them.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// ResultStore archives flow results using gocloud.dev/blob, supporting S3,
// GCS, Azure Blob Storage, and S3-compatible stores
type ResultStore struct {
	bucket *blob.Bucket
	prefix string
}

var ErrResultNotFound = errors.New("archived result not found")

// NewResultStore opens the bucket at the given URL. The prefix namespaces
// this engine's results within a shared bucket
func NewResultStore(
	ctx context.Context, bucketURL, prefix string,
) (*ResultStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &ResultStore{bucket: bucket, prefix: prefix}, nil
}

// Put archives one result, keyed by its run ID
func (s *ResultStore) Put(ctx context.Context, res *api.FlowResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.keyFor(res.RunID), data, nil)
}

// Get retrieves an archived result by run ID
func (s *ResultStore) Get(
	ctx context.Context, runID api.RunID,
) (*api.FlowResult, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(runID))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, runID)
		}
		return nil, err
	}

	var res api.FlowResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete removes an archived result. Deleting an absent result is a no-op
func (s *ResultStore) Delete(ctx context.Context, runID api.RunID) error {
	err := s.bucket.Delete(ctx, s.keyFor(runID))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the underlying bucket
func (s *ResultStore) Close() error {
	return s.bucket.Close()
}

// Listener returns an event listener that archives every terminal run.
// Subscribe it to the flow_completed, flow_failed, and flow_cancelled event
// types; archive errors are logged by the dispatcher, never fatal
func (s *ResultStore) Listener(ctx context.Context) api.Listener {
	return func(e *api.Event) error {
		if e.Result == nil {
			return nil
		}
		if err := s.Put(ctx, e.Result); err != nil {
			slog.Error("Failed to archive flow result",
				log.FlowID(e.FlowID),
				log.RunID(e.RunID),
				log.Error(err))
			return err
		}
		return nil
	}
}

func (s *ResultStore) keyFor(runID api.RunID) string {
	return s.prefix + string(runID) + ".json"
}
