package leveldb

import (
	"bytes"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/errors"
)

func TestTranslator(t *testing.T) {
	levelDir := t.TempDir()
	lt, err := NewTranslator(levelDir, "task", "camera")
	if err != nil {
		t.Fatalf("couldn't get level translator: %v", err)
	}
	id1, err := lt.GetID("task", "pick up the block")
	if err != nil {
		t.Fatalf("couldn't get id in task: %v", err)
	}
	if id1 != 0 {
		t.Fatalf("first id in a field should be 0, got %d", id1)
	}
	id2, err := lt.GetID("camera", []byte("down"))
	if err != nil {
		t.Fatalf("couldn't get id in camera: %v", err)
	}
	id3, err := lt.GetID("newfield", "hello")
	if err != nil {
		t.Fatalf("couldn't get id in newfield: %v", err)
	}

	val, err := lt.Get("task", id1)
	if err != nil {
		t.Fatalf("Get(task, id1): %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("pick up the block")) {
		t.Fatalf("unexpected value in task: %s", val)
	}

	err = lt.Close()
	if err != nil {
		t.Fatalf("closing level translator: %v", err)
	}

	lt, err = NewTranslator(levelDir, "task", "camera")
	if err != nil {
		t.Fatalf("couldn't get level translator after closing: %v", err)
	}
	defer lt.Close()
	val, err = lt.Get("task", id1)
	if err != nil {
		t.Fatalf("after reopen, Get(task, id1): %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("pick up the block")) {
		t.Fatalf("after reopen, unexpected value in task: %s", val)
	}

	id1again, err := lt.GetID("task", "pick up the block")
	if err != nil {
		t.Fatalf("couldn't get id again in task: %v", err)
	}
	id2again, err := lt.GetID("camera", []byte("down"))
	if err != nil {
		t.Fatalf("couldn't get id again in camera: %v", err)
	}
	id3again, err := lt.GetID("newfield", "hello")
	if err != nil {
		t.Fatalf("couldn't get id again in newfield: %v", err)
	}
	if id1again != id1 || id2again != id2 || id3 != id3again {
		t.Fatalf("didn't get same ids for same values: %v/%v %v/%v %v/%v", id1, id1again, id2, id2again, id3, id3again)
	}

	// new ids after reopening continue the sequence rather than reusing 0
	idNext, err := lt.GetID("task", "put down the block")
	if err != nil {
		t.Fatalf("couldn't get id for new value: %v", err)
	}
	if idNext != id1+1 {
		t.Fatalf("expected id %d after reopen, got %d", id1+1, idNext)
	}
}

func TestConcTranslator(t *testing.T) {
	lt, err := NewTranslator(t.TempDir(), "f1")
	if err != nil {
		t.Fatalf("couldn't get level translator: %v", err)
	}
	defer lt.Close()

	wg := &sync.WaitGroup{}
	rets := make([][]uint64, 8)
	errs := make(chan error, 8*1000)
	for i := 0; i < 8; i++ {
		rets[i] = make([]uint64, 1000)
		wg.Add(1)
		go func(ret []uint64) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				id, err := lt.GetID("f1", []byte(strconv.Itoa(j)))
				if err != nil {
					errs <- errors.Wrap(err, "getting id")
					return
				}
				ret[j] = id
			}
		}(rets[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent GetID: %v", err)
	}

	// every goroutine must agree on the mapping
	for i := 1; i < 8; i++ {
		if !reflect.DeepEqual(rets[0], rets[i]) {
			t.Fatalf("goroutine %d disagrees with goroutine 0", i)
		}
	}
	// and the ids must be a permutation of 0..999
	ids := make([]uint64, len(rets[0]))
	copy(ids, rets[0])
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i) {
			t.Fatalf("ids are not dense: position %d has %d", i, id)
		}
	}
}
