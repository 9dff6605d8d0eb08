// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt records the frames exchanged with each client, and how each
// connection ended, into a boltdb file so a test harness can inspect them after
// the fact.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mochi-mqtt/fixture"
	"github.com/mochi-mqtt/fixture/hooks/storage"
	"github.com/mochi-mqtt/fixture/packets"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "fixture"

	// defaultWorkers is the default number of goroutines writing to the file.
	defaultWorkers = 4

	// defaultQueueSize is the default number of pending writes per worker.
	defaultQueueSize = 64
)

// transcriptPrefix returns the key prefix shared by all transcript entries of a client.
func transcriptPrefix(id string) string {
	return storage.TranscriptKey + "_" + id + ":"
}

// transcriptKey returns a primary key for a transcript entry. The sequence is
// zero padded so entries sort in the order they were recorded.
func transcriptKey(id string, seq uint64) string {
	return fmt.Sprintf("%s%020d", transcriptPrefix(id), seq)
}

// outcomeKey returns a primary key for a connection outcome.
func outcomeKey(id string) string {
	return storage.OutcomeKey + "_" + id
}

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options   *bbolt.Options `yaml:"-" json:"-"`
	Bucket    string         `yaml:"bucket" json:"bucket"`
	Path      string         `yaml:"path" json:"path"`
	Workers   uint64         `yaml:"workers" json:"workers"`       // goroutines writing records
	QueueSize uint64         `yaml:"queue_size" json:"queue_size"` // pending writes per worker
}

// Hook is a transcript hook using a boltdb file store as a backend.
type Hook struct {
	fixture.HookBase
	config *Options         // options for configuring the boltdb instance.
	db     *bbolt.DB        // the boltdb instance.
	pool   *fixture.FanPool // writes records in order per client.
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "bolt-transcript"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		fixture.OnPacketRead,
		fixture.OnPacketSent,
		fixture.OnDisconnect,
	}, []byte{b})
}

// Init initializes and connects to the boltdb instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return fixture.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Options == nil {
		h.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}
	if len(h.config.Path) == 0 {
		h.config.Path = defaultDbFile
	}

	if len(h.config.Bucket) == 0 {
		h.config.Bucket = defaultBucket
	}

	if h.config.Workers == 0 {
		h.config.Workers = defaultWorkers
	}

	if h.config.QueueSize == 0 {
		h.config.QueueSize = defaultQueueSize
	}

	var err error
	h.db, err = bbolt.Open(h.config.Path, 0600, h.config.Options)
	if err != nil {
		return err
	}

	err = h.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(h.config.Bucket))
		return err
	})
	if err != nil {
		return err
	}

	h.pool = fixture.NewFanPool(h.config.Workers, h.config.QueueSize)
	return nil
}

// Stop waits for pending records to be written and closes the boltdb instance.
func (h *Hook) Stop() error {
	if h.pool != nil {
		h.pool.Close()
		h.pool.Wait()
	}

	if h.db == nil {
		return nil
	}

	err := h.db.Close()
	h.db = nil
	return err
}

// OnPacketRead records a frame received from a client.
func (h *Hook) OnPacketRead(cl *fixture.Client, f packets.Frame) (packets.Frame, error) {
	h.record(cl, storage.DirectionIn, f, f.Size())
	return f, nil
}

// OnPacketSent records a frame sent to a client.
func (h *Hook) OnPacketSent(cl *fixture.Client, f packets.Frame, n int) {
	h.record(cl, storage.DirectionOut, f, n)
}

// OnDisconnect records how the client connection ended.
func (h *Hook) OnDisconnect(cl *fixture.Client, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.Outcome{
		ID:        outcomeKey(cl.ID),
		T:         storage.OutcomeKey,
		Client:    cl.ID,
		Remote:    cl.Net.Remote,
		Listener:  cl.Net.Listener,
		State:     cl.Reached().String(),
		Ended:     time.Now().Unix(),
		PacketID:  cl.State.PacketID,
		Completed: err == nil,
	}

	if err != nil {
		in.Error = err.Error()
	}

	h.pool.Enqueue(cl.ID, func() {
		_ = h.setKv(in.ID, in)
	})
}

// record queues a frame to be appended to the transcript of a client.
func (h *Hook) record(cl *fixture.Client, direction string, f packets.Frame, n int) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	id := cl.ID
	created := time.Now().UnixNano()
	h.pool.Enqueue(id, func() {
		h.write(id, direction, created, f, n)
	})
}

// write appends a frame to the transcript of a client.
func (h *Hook) write(id, direction string, created int64, f packets.Frame, n int) {
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		in := &storage.Entry{
			ID:        transcriptKey(id, seq),
			T:         storage.TranscriptKey,
			Client:    id,
			Direction: direction,
			Seq:       seq,
			Created:   created,
			Remaining: f.FixedHeader.Remaining,
			Bytes:     n,
			Type:      f.FixedHeader.Type,
			Flags:     f.FixedHeader.Flags,
			Payload:   f.Payload,
		}

		data, err := in.MarshalBinary()
		if err != nil {
			return err
		}

		return bucket.Put([]byte(in.ID), data)
	})
	if err != nil {
		h.Log.Error("failed to record frame", "error", err, "client", id)
	}
}

// Transcript returns every frame recorded for a client, in the order they were exchanged.
func (h *Hook) Transcript(id string) (v []storage.Entry, err error) {
	if h.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	h.pool.Flush(id)
	v = make([]storage.Entry, 0)
	err = h.iterKv(transcriptPrefix(id), func(value []byte) error {
		obj := storage.Entry{}
		err := obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
	})
	return
}

// Outcome returns the recorded outcome of a client connection.
func (h *Hook) Outcome(id string) (v storage.Outcome, err error) {
	if h.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	h.pool.Flush(id)
	err = h.getKv(outcomeKey(id), &v)
	return
}

// Outcomes returns the recorded outcomes of all client connections.
func (h *Hook) Outcomes() (v []storage.Outcome, err error) {
	if h.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	h.pool.FlushAll()
	v = make([]storage.Outcome, 0)
	err = h.iterKv(storage.OutcomeKey+"_", func(value []byte) error {
		obj := storage.Outcome{}
		err := obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
	})
	return
}

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(k), data)
	})
	if err != nil {
		h.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	return h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		value := bucket.Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}

		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (h *Hook) iterKv(prefix string, visit func([]byte) error) error {
	return h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		c := bucket.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})
}
