package openai

import (
	"encoding/json"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "conv/"

// Turn is one message of a conversation thread.
type Turn struct {
	ID      string `json:"id"`
	Parent  string `json:"parent,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcripts keeps conversation threads in an in-memory badger instance.
// Threads expire on their own after ttl without writes.
type Transcripts struct {
	db  *badger.DB
	ttl time.Duration
}

// badgerLogger sends badger's routine open and compaction messages to
// Debug, keeping warnings and errors as they are.
type badgerLogger struct {
	logrus.FieldLogger
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf(format, args...)
}

func OpenTranscripts(ttl time.Duration, log logrus.FieldLogger) (*Transcripts, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript store")
	}
	return &Transcripts{db: db, ttl: ttl}, nil
}

func (t *Transcripts) Load(conversationID string) ([]Turn, error) {
	var turns []Turn
	err := t.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(keyPrefix + conversationID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			return json.Unmarshal(val, &turns)
		})
	})
	return turns, errors.Wrapf(err, "load transcript %s", conversationID)
}

func (t *Transcripts) Save(conversationID string, turns []Turn) error {
	val, err := json.Marshal(turns)
	if err != nil {
		return errors.Wrap(err, "encode transcript")
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+conversationID), val)
		if t.ttl > 0 {
			e = e.WithTTL(t.ttl)
		}
		return txn.SetEntry(e)
	})
	return errors.Wrapf(err, "save transcript %s", conversationID)
}

func (t *Transcripts) Delete(conversationID string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + conversationID))
	})
	return errors.Wrapf(err, "delete transcript %s", conversationID)
}

func (t *Transcripts) Close() error {
	return t.db.Close()
}
