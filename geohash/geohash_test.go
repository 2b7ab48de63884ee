package geohash_test

import (
	"testing"

	"github.com/roboto-ai/rdk"
	"github.com/roboto-ai/rdk/geohash"
)

func TestForFixes(t *testing.T) {
	fixes := []rdk.Fix{
		{Timestamp: 0, Latitude: 31.1, Longitude: 42.2},
		{Timestamp: 1, Latitude: 31.1, Longitude: 42.2},
		{Timestamp: 2, Latitude: 89.9, Longitude: -120.0}, // wild fix, should not move the tag
	}
	hash, err := geohash.ForFixes(fixes, 6)
	if err != nil {
		t.Fatalf("hashing fixes: %v", err)
	}
	if len(hash) != 6 {
		t.Fatalf("unexpected hash length %q", hash)
	}
	steady, err := geohash.ForFixes(fixes[:2], 6)
	if err != nil {
		t.Fatalf("hashing steady fixes: %v", err)
	}
	if hash != steady {
		t.Fatalf("median hash %q differs from steady hash %q", hash, steady)
	}
}

func TestForFixesEmpty(t *testing.T) {
	if _, err := geohash.ForFixes(nil, 6); err == nil {
		t.Fatal("expected error for no fixes")
	}
}

func TestForFixesDefaultPrecision(t *testing.T) {
	hash, err := geohash.ForFixes([]rdk.Fix{{Latitude: 10, Longitude: 10}}, 0)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	if len(hash) != geohash.DefaultPrecision {
		t.Fatalf("unexpected hash length %q", hash)
	}
}
