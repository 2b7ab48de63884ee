package boltdb

import (
	"bytes"
	"os"
	"testing"

	"github.com/roboto-ai/rdk"
)

func TestBoltTranslator(t *testing.T) {
	boltFile := tempFileName(t)
	bt, err := NewTranslator(boltFile, "task", "camera")
	if err != nil {
		t.Fatalf("couldn't get bolt db: %v", err)
	}
	id1, err := bt.GetID("task", "pick up the block")
	if err != nil {
		t.Fatalf("couldn't get id in task: %v", err)
	}
	if id1 != 0 {
		t.Fatalf("first id in a field should be 0, got %d", id1)
	}
	id2, err := bt.GetID("camera", []byte("pick up the block"))
	if err != nil {
		t.Fatalf("couldn't get id in camera: %v", err)
	}
	if id2 != 0 {
		t.Fatalf("fields should have separate id spaces, got %d", id2)
	}

	val, err := bt.Get("task", id1)
	if err != nil {
		t.Fatalf("getting task value: %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("pick up the block")) {
		t.Fatalf("unexpected value in task: %s", val)
	}

	err = bt.Db.Close()
	if err != nil {
		t.Fatalf("closing bolt db: %v", err)
	}

	bt, err = NewTranslator(boltFile, "task", "camera")
	if err != nil {
		t.Fatalf("getting new translator: %v", err)
	}
	val, err = bt.Get("task", id1)
	if err != nil {
		t.Fatalf("after reopen, getting task value: %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("pick up the block")) {
		t.Fatalf("after reopen, unexpected value in task: %s", val)
	}

	id1again, err := bt.GetID("task", "pick up the block")
	if err != nil {
		t.Fatalf("couldn't get id again in task: %v", err)
	}
	if id1again != id1 {
		t.Fatalf("didn't get same id for same value: %v vs %v", id1, id1again)
	}

	id3, err := bt.GetID("newfield", "another task")
	if err != nil {
		t.Fatalf("couldn't get id in newfield: %v", err)
	}
	val, err = bt.Get("newfield", id3)
	if err != nil {
		t.Fatalf("getting newfield value: %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("another task")) {
		t.Fatalf("unexpected value in newfield: %s", val)
	}

	if _, err := bt.Get("nope", 0); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := bt.GetID("task", 42); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}

func TestBoltFieldView(t *testing.T) {
	bt, err := NewTranslator(tempFileName(t), "task")
	if err != nil {
		t.Fatalf("couldn't get bolt db: %v", err)
	}
	defer bt.Close()

	var ft rdk.FieldTranslator = rdk.FieldView(bt, "task")
	id, err := ft.GetID("wave")
	if err != nil {
		t.Fatalf("getting id through field view: %v", err)
	}
	val, err := ft.Get(id)
	if err != nil {
		t.Fatalf("getting value through field view: %v", err)
	}
	if !bytes.Equal(val.([]byte), []byte("wave")) {
		t.Fatalf("unexpected value: %s", val)
	}
}

func tempFileName(t *testing.T) string {
	tf, err := os.CreateTemp(t.TempDir(), "")
	if err != nil {
		t.Fatalf("couldn't get temp file: %v", err)
	}
	err = tf.Close()
	if err != nil {
		t.Fatalf("couldn't close temp file: %v", err)
	}
	return tf.Name()
}
