package queue

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// itemDict is the on-disk representation from §6: ItemDict = { id, data,
// priority:int, created_at:ISO8601, retry_count:int, max_retries:int,
// ttl_seconds:float|null }.
type itemDict struct {
	ID         string      `json:"id" msgpack:"id"`
	Data       interface{} `json:"data" msgpack:"data"`
	Priority   int         `json:"priority" msgpack:"priority"`
	CreatedAt  string      `json:"created_at" msgpack:"created_at"`
	RetryCount int         `json:"retry_count" msgpack:"retry_count"`
	MaxRetries int         `json:"max_retries" msgpack:"max_retries"`
	TTLSeconds *float64    `json:"ttl_seconds" msgpack:"ttl_seconds"`
}

type stateDoc struct {
	Queue   []itemDict `json:"queue" msgpack:"queue"`
	Metrics struct {
		TotalEnqueued int64 `json:"total_enqueued" msgpack:"total_enqueued"`
		TotalDequeued int64 `json:"total_dequeued" msgpack:"total_dequeued"`
	} `json:"metrics" msgpack:"metrics"`
}

func itemToDict(it *Item) itemDict {
	return itemDict{
		ID:         it.ID,
		Data:       it.Data,
		Priority:   int(it.Priority),
		CreatedAt:  it.CreatedAt.Format(time.RFC3339Nano),
		RetryCount: it.RetryCount,
		MaxRetries: it.MaxRetries,
		TTLSeconds: it.TTLSeconds,
	}
}

func dictToItem(d itemDict) *Item {
	createdAt, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	return &Item{
		ID:         d.ID,
		Data:       d.Data,
		Priority:   Priority(d.Priority),
		CreatedAt:  createdAt,
		RetryCount: d.RetryCount,
		MaxRetries: d.MaxRetries,
		TTLSeconds: d.TTLSeconds,
	}
}

// Codec is the persistence serialization variation point (§9's "Dynamic
// dispatch → interface abstraction" design note): the Queue Manager is
// constructed with one and never branches on format itself.
type Codec interface {
	Encode(doc interface{}) ([]byte, error)
	Decode(data []byte, doc interface{}) error
}

// JSONCodec is the default codec and matches the wire format documented
// in §6 exactly.
type JSONCodec struct{}

func (JSONCodec) Encode(doc interface{}) ([]byte, error) { return json.Marshal(doc) }
func (JSONCodec) Decode(data []byte, doc interface{}) error { return json.Unmarshal(data, doc) }

// MsgpackCodec is an alternate binary codec exercising the same Codec
// interface, for deployments that prefer a compact on-disk format over
// the wire-stable JSON shape.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(doc interface{}) ([]byte, error) { return msgpack.Marshal(doc) }
func (MsgpackCodec) Decode(data []byte, doc interface{}) error { return msgpack.Unmarshal(data, doc) }
