// Package leveldb provides a rdk.Translator implementation using leveldb,
// persisting dictionaries like the task_index mapping across runs.
package leveldb

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"os"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/roboto-ai/rdk"
)

var _ rdk.Translator = &Translator{}

// Translator is a rdk.Translator which stores the two way val/id mapping in
// a pair of leveldbs per field. Ids are dense per field, starting at 0, and
// survive reopening.
type Translator struct {
	lock    sync.RWMutex
	dirname string
	fields  map[string]*FieldTranslator
}

// FieldTranslator is the leveldb-backed dictionary for one field.
type FieldTranslator struct {
	lock   valueLocker
	idMap  *leveldb.DB
	valMap *leveldb.DB
	curID  *uint64
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// Close closes all of the underlying leveldbs.
func (lt *Translator) Close() error {
	errs := make(errorList, 0)
	for f, lft := range lt.fields {
		err := lft.Close()
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "field : %v", f))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Close closes the two leveldbs of this field.
func (lft *FieldTranslator) Close() error {
	errs := make(errorList, 0)
	err := lft.idMap.Close()
	if err != nil {
		errs = append(errs, errors.Wrap(err, "closing idMap"))
	}
	err = lft.valMap.Close()
	if err != nil {
		errs = append(errs, errors.Wrap(err, "closing valMap"))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (lt *Translator) getFieldTranslator(field string) (*FieldTranslator, error) {
	lt.lock.RLock()
	if tr, ok := lt.fields[field]; ok {
		lt.lock.RUnlock()
		return tr, nil
	}
	lt.lock.RUnlock()
	lt.lock.Lock()
	defer lt.lock.Unlock()
	if tr, ok := lt.fields[field]; ok {
		return tr, nil
	}
	lft, err := NewFieldTranslator(lt.dirname, field)
	if err != nil {
		return nil, errors.Wrap(err, "creating new FieldTranslator")
	}
	lt.fields[field] = lft
	return lft, nil
}

// NewFieldTranslator opens (or creates) the dictionary for one field under
// dirname.
func NewFieldTranslator(dirname string, field string) (*FieldTranslator, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	var initialID uint64
	mdbs := &FieldTranslator{
		curID: &initialID,
		lock:  newBucketVLock(),
	}
	mdbs.idMap, err = leveldb.OpenFile(dirname+"/"+field+"-id", &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname+"/"+field+"-id")
	}
	mdbs.valMap, err = leveldb.OpenFile(dirname+"/"+field+"-val", &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname+"/"+field+"-val")
	}
	// pick up allocation where the last open left off
	iter := mdbs.idMap.NewIterator(nil, nil)
	for iter.Next() {
		id := binary.BigEndian.Uint64(iter.Key())
		if id+1 > initialID {
			initialID = id + 1
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "scanning existing ids")
	}
	return mdbs, nil
}

// NewTranslator opens a Translator under dirname with dictionaries for the
// given fields.
func NewTranslator(dirname string, fields ...string) (lt *Translator, err error) {
	lt = &Translator{
		dirname: dirname,
		fields:  make(map[string]*FieldTranslator),
	}
	for _, field := range fields {
		lft, err := NewFieldTranslator(dirname, field)
		if err != nil {
			return nil, errors.Wrap(err, "making FieldTranslator")
		}
		lt.fields[field] = lft
	}
	return lt, err
}

// Get returns the value mapped to id within field. It will always be a
// []byte.
func (lt *Translator) Get(field string, id uint64) (val interface{}, err error) {
	lft, err := lt.getFieldTranslator(field)
	if err != nil {
		return nil, errors.Wrap(err, "getting field translator")
	}
	val, err = lft.Get(id)
	return val, err
}

// Get returns the value mapped to id. It will always be a []byte.
func (lft *FieldTranslator) Get(id uint64) (val interface{}, err error) {
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	data, err := lft.idMap.Get(idBytes, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching from idMap")
	}
	return data, nil
}

// GetID maps val (a string or byte slice) to a dense id within field.
func (lt *Translator) GetID(field string, val interface{}) (id uint64, err error) {
	lft, err := lt.getFieldTranslator(field)
	if err != nil {
		return 0, errors.Wrap(err, "getting field translator")
	}
	return lft.GetID(val)
}

// GetID maps val (a string or byte slice) to a dense id.
func (lft *FieldTranslator) GetID(val interface{}) (id uint64, err error) {
	var valBytes []byte
	switch valt := val.(type) {
	case []byte:
		valBytes = valt
	case string:
		valBytes = []byte(valt)
	default:
		return 0, errors.Errorf("val needs to be a string or byte slice, but is type: %T, val: '%v'", val, val)
	}
	var data []byte

	// if you're expecting most of the mapping to already be done, this would be faster
	data, err = lft.valMap.Get(valBytes, &opt.ReadOptions{})
	if err != nil && err != leveldb.ErrNotFound {
		return 0, errors.Wrap(err, "trying to read value map")
	} else if err == nil {
		return binary.BigEndian.Uint64(data), nil
	}

	// else, val not found
	lft.lock.Lock(valBytes)
	defer lft.lock.Unlock(valBytes)
	// re-read after locking
	data, err = lft.valMap.Get(valBytes, &opt.ReadOptions{})
	if err != nil && err != leveldb.ErrNotFound {
		return 0, errors.Wrap(err, "trying to read value map")
	} else if err == nil {
		return binary.BigEndian.Uint64(data), nil
	}

	idBytes := make([]byte, 8)
	new := atomic.AddUint64(lft.curID, 1)
	binary.BigEndian.PutUint64(idBytes, new-1)
	err = lft.idMap.Put(idBytes, valBytes, &opt.WriteOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "putting new id into idmap")
	}
	err = lft.valMap.Put(valBytes, idBytes, &opt.WriteOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "putting new id into valmap")
	}
	return new - 1, nil
}

type valueLocker interface {
	Lock(val []byte)
	Unlock(val []byte)
}

type bucketVLock struct {
	ms []sync.Mutex
}

func newBucketVLock() bucketVLock {
	return bucketVLock{
		ms: make([]sync.Mutex, 1000),
	}
}

func (b bucketVLock) Lock(val []byte) {
	hsh := fnv.New32a()
	hsh.Write(val) // never returns error for hash
	b.ms[hsh.Sum32()%1000].Lock()
}

func (b bucketVLock) Unlock(val []byte) {
	hsh := fnv.New32a()
	hsh.Write(val) // never returns error for hash
	b.ms[hsh.Sum32()%1000].Unlock()
}
