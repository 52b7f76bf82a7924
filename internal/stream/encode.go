package stream

import (
	"encoding/json"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
)

func encodeBatch(batch *core.Batch) ([]byte, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding batch %s", batch.ID)
	}
	return payload, nil
}
