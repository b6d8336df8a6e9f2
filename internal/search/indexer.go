// Package search keeps the shows search index in sync with the catalog
// store by consuming its change feed. The core never reads this index;
// it exists purely for the query side.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showtix/showtix/internal/observability"
)

const ShowsIndex = "shows"

const showsMapping = `{
	"mappings": {
		"properties": {
			"id": {"type": "keyword"},
			"name": {"type": "text"},
			"location": {"type": "text"},
			"start_time": {"type": "date"},
			"description": {"type": "text"},
			"performer": {"type": "text"}
		}
	}
}`

// changeRecord is one row-level change from the catalog feed. A record
// without an after image (a delete) carries nothing to index.
type changeRecord struct {
	Before json.RawMessage `json:"before"`
	After  *showRow        `json:"after"`
}

// showRow is the feed's row image; start_time arrives as microseconds
// since the epoch.
type showRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	StartTime   int64  `json:"start_time"`
	Description string `json:"description"`
	Performer   string `json:"performer"`
}

// ShowDoc is the document shape written to the index.
type ShowDoc struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	Description string    `json:"description"`
	Performer   string    `json:"performer"`
}

// DecodeChange extracts the indexable document from a change-feed record.
// The second return is false when the record has no after image and must
// be skipped.
func DecodeChange(body []byte) (ShowDoc, bool, error) {
	var rec changeRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return ShowDoc{}, false, errors.Wrap(err, "decode change record")
	}
	if rec.After == nil {
		return ShowDoc{}, false, nil
	}
	return ShowDoc{
		ID:          rec.After.ID,
		Name:        rec.After.Name,
		Location:    rec.After.Location,
		StartTime:   time.UnixMicro(rec.After.StartTime).UTC(),
		Description: rec.After.Description,
		Performer:   rec.After.Performer,
	}, true, nil
}

type Indexer struct {
	es     *elasticsearch.Client
	logger observability.Logger
}

func NewIndexer(es *elasticsearch.Client, logger observability.Logger) *Indexer {
	return &Indexer{es: es, logger: logger}
}

// EnsureIndex creates the shows index with its mapping if absent.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{ShowsIndex}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "check shows index")
	}
	defer res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	create, err := i.es.Indices.Create(ShowsIndex,
		i.es.Indices.Create.WithContext(ctx),
		i.es.Indices.Create.WithBody(strings.NewReader(showsMapping)))
	if err != nil {
		return errors.Wrap(err, "create shows index")
	}
	defer create.Body.Close()
	if create.IsError() {
		return errors.Newf("create shows index: %s", create.Status())
	}
	return nil
}

func (i *Indexer) Index(ctx context.Context, doc ShowDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      ShowsIndex,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(data),
	}
	res, err := req.Do(ctx, i.es)
	if err != nil {
		return errors.Wrap(err, "index show")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Newf("index show %s: %s", doc.ID, res.Status())
	}
	return nil
}

// Run consumes change-feed deliveries until the channel closes or ctx is
// cancelled. Indexing failures nack with requeue; malformed records are
// dropped after logging.
func (i *Indexer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			doc, indexable, err := DecodeChange(d.Body)
			if err != nil {
				i.logger.Error("dropping malformed change record: ", err)
				d.Nack(false, false)
				continue
			}
			if !indexable {
				i.logger.Debug("skipping change record without after image")
				d.Ack(false)
				continue
			}
			if err := i.Index(ctx, doc); err != nil {
				i.logger.WithField("show_id", doc.ID).Error("failed to index show: ", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}
