// Package boltdb provides a rdk.Translator implementation using boltdb,
// persisting dictionaries like the task_index mapping across runs. BoltDB
// is great, but the leveldb translator has better write performance.
package boltdb

import (
	"sync"
	"time"

	"encoding/binary"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	idBucket  = []byte("idKey")
	valBucket = []byte("valKey")
)

// Translator is a rdk.Translator which stores the two way val/id mapping in
// boltdb. It only accepts string and []byte values to map. Ids are dense
// per field, starting at 0.
type Translator struct {
	Db     *bolt.DB
	fmu    sync.RWMutex
	fields map[string]struct{}
}

// Close syncs and closes the underlying boltdb.
func (bt *Translator) Close() error {
	err := bt.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return bt.Db.Close()
}

// NewTranslator gets a new Translator.
func NewTranslator(filename string, fields ...string) (bt *Translator, err error) {
	bt = &Translator{
		fields: make(map[string]struct{}),
	}
	bt.Db, err = bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: 50000000, NoGrowSync: true})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	bt.Db.MaxBatchDelay = 400 * time.Microsecond
	err = bt.Db.Update(func(tx *bolt.Tx) error {
		ib, err := tx.CreateBucketIfNotExists(idBucket)
		if err != nil {
			return errors.Wrap(err, "creating idKey bucket")
		}
		vb, err := tx.CreateBucketIfNotExists(valBucket)
		if err != nil {
			return errors.Wrap(err, "creating valKey bucket")
		}
		for _, field := range fields {
			_, _, err = bt.addField(ib, vb, field)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return bt, nil
}

func (bt *Translator) addField(ib, vb *bolt.Bucket, field string) (fib, fvb *bolt.Bucket, err error) {
	fib, err = ib.CreateBucketIfNotExists([]byte(field))
	if err != nil {
		return nil, nil, errors.Wrap(err, "adding "+field+" to id bucket")
	}
	fvb, err = vb.CreateBucketIfNotExists([]byte(field))
	if err != nil {
		return nil, nil, errors.Wrap(err, "adding "+field+" to val bucket")
	}
	bt.fmu.Lock()
	bt.fields[field] = struct{}{}
	bt.fmu.Unlock()

	return fib, fvb, nil
}

// Get returns the previously mapped value for the id generated by GetID.
// The value will always come back as a []byte.
func (bt *Translator) Get(field string, id uint64) (val interface{}, err error) {
	bt.fmu.RLock()
	_, ok := bt.fields[field]
	bt.fmu.RUnlock()
	if !ok {
		return nil, errors.Errorf("can't Get with unknown field '%v'", field)
	}
	var ret []byte
	err = bt.Db.View(func(tx *bolt.Tx) error {
		fib := tx.Bucket(idBucket).Bucket([]byte(field))
		idBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(idBytes, id)
		ret = fib.Get(idBytes)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "viewing db")
	}
	if ret == nil {
		return nil, errors.Errorf("no value for id %d in field '%v'", id, field)
	}
	return ret, nil
}

// GetID maps val (a string or byte slice) to a dense id within field.
func (bt *Translator) GetID(field string, val interface{}) (id uint64, err error) {
	// ensure field existence
	bt.fmu.RLock()
	_, ok := bt.fields[field]
	bt.fmu.RUnlock()
	if !ok {
		err = bt.Db.Update(func(tx *bolt.Tx) error {
			ib := tx.Bucket(idBucket)
			vb := tx.Bucket(valBucket)
			_, _, err := bt.addField(ib, vb, field)
			return err
		})
		if err != nil {
			return 0, errors.Wrap(err, "adding field in GetID")
		}
	}

	var bsval []byte
	switch valt := val.(type) {
	case []byte:
		bsval = valt
	case string:
		bsval = []byte(valt)
	default:
		return 0, errors.Errorf("val %v of type %T for field %v not supported by the bolt translator - must be a string or []byte", val, val, field)
	}

	// look up to see if this val is already mapped to an id
	var ret []byte
	err = bt.Db.View(func(tx *bolt.Tx) error {
		fvb := tx.Bucket(valBucket).Bucket([]byte(field))
		ret = fvb.Get(bsval)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "viewing db")
	}
	if len(ret) == 8 {
		return binary.BigEndian.Uint64(ret), nil
	}

	// get new id, and map it in both directions
	err = bt.Db.Batch(func(tx *bolt.Tx) error {
		fib := tx.Bucket(idBucket).Bucket([]byte(field))
		fvb := tx.Bucket(valBucket).Bucket([]byte(field))

		seq, err := fib.NextSequence()
		if err != nil {
			return err
		}
		// NextSequence starts at 1; ids are 0-based
		id = seq - 1
		keybytes := make([]byte, 8)
		binary.BigEndian.PutUint64(keybytes, id)
		err = fib.Put(keybytes, bsval)
		if err != nil {
			return errors.Wrap(err, "inserting into idKey bucket")
		}
		err = fvb.Put(bsval, keybytes)
		if err != nil {
			return errors.Wrap(err, "inserting into valKey bucket")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// BulkAdd adds many values to a field at once, allocating sequential ids
// from 0.
func (bt *Translator) BulkAdd(field string, values [][]byte) error {
	var batchSize uint64 = 10000
	var batch uint64
	for batch*batchSize < uint64(len(values)) {
		err := bt.Db.Batch(func(tx *bolt.Tx) error {
			fib := tx.Bucket(idBucket).Bucket([]byte(field))
			fvb := tx.Bucket(valBucket).Bucket([]byte(field))

			for i := batch * batchSize; i < (batch+1)*batchSize && i < uint64(len(values)); i++ {
				idBytes := make([]byte, 8)
				binary.BigEndian.PutUint64(idBytes, i)
				valBytes := values[i]
				err := fib.Put(idBytes, valBytes)
				if err != nil {
					return errors.Wrap(err, "putting into idKey bucket")
				}
				err = fvb.Put(valBytes, idBytes)
				if err != nil {
					return errors.Wrap(err, "putting into valKey bucket")
				}
			}
			return fib.SetSequence(uint64(len(values)))
		})
		if err != nil {
			return errors.Wrap(err, "inserting batch")
		}
		batch++
	}
	return nil
}
