package es

import (
	"context"
	"encoding/json"
	"io"
	"time"

	elastic "github.com/olivere/elastic/v7" // Elasticsearch client.
	"github.com/pkg/errors"                 // Wrap errors with context.
)

// maxResults is the hard cap on hits fetched per query. A rule matching
// more than this floods the notification channel anyway; the remainder
// is reported via the pre-truncation hit count.
const maxResults = 10000

const (
	scrollKeepAlive = "1m"
	defaultTimeout  = 30 * time.Second
)

// QueryService runs windowed log queries against one cluster,
// paginating with the scroll API so time windows larger than a single
// page are returned completely (up to the cap).
type QueryService struct {
	client  *elastic.Client
	timeout time.Duration
}

// NewQueryService wraps client. timeout bounds each query when the
// caller's context carries no deadline of its own; zero or negative
// means the 30s default.
func NewQueryService(client *elastic.Client, timeout time.Duration) *QueryService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &QueryService{client: client, timeout: timeout}
}

// QueryLogs executes body against index and returns every matching
// document, capped at 10000. Each document is the hit's _source plus
// its _index and _id. batchSize controls the scroll page size.
func (s *QueryService) QueryLogs(ctx context.Context, index string, body interface{}, batchSize int) ([]map[string]interface{}, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	svc := s.client.Scroll(index).
		KeepAlive(scrollKeepAlive).
		Size(batchSize).
		Body(body)
	defer svc.Clear(context.Background()) // nolint: errcheck

	var docs []map[string]interface{}
	for {
		result, err := svc.Do(ctx)
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "query logs in %s", index)
		}
		for _, hit := range result.Hits.Hits {
			doc := make(map[string]interface{})
			if len(hit.Source) > 0 {
				if err := json.Unmarshal(hit.Source, &doc); err != nil {
					return nil, errors.Wrap(err, "decode hit source")
				}
			}
			doc["_index"] = hit.Index
			doc["_id"] = hit.Id
			docs = append(docs, doc)
			if len(docs) >= maxResults {
				return docs, nil
			}
		}
	}
}
