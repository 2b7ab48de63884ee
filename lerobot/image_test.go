package lerobot

import "testing"

func TestReorderPermutation(t *testing.T) {
	from := []string{"height", "width", "channel"}
	to := []string{"channel", "height", "width"}
	perm, err := ReorderPermutation(from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perm) != 3 || perm[0] != 2 || perm[1] != 0 || perm[2] != 1 {
		t.Fatalf("unexpected permutation: %v", perm)
	}

	shape := ReorderShape([]int{480, 640, 3}, perm)
	if shape[0] != 3 || shape[1] != 480 || shape[2] != 640 {
		t.Fatalf("unexpected reordered shape: %v", shape)
	}
}

func TestReorderPermutationErrors(t *testing.T) {
	if _, err := ReorderPermutation([]string{"a", "b"}, []string{"a"}); err == nil {
		t.Fatal("expected error for differing lengths")
	}
	if _, err := ReorderPermutation([]string{"a", "b"}, []string{"a", "c"}); err == nil {
		t.Fatal("expected error for missing axis")
	}
	if _, err := ReorderPermutation([]string{"a", "b"}, []string{"a", "a"}); err == nil {
		t.Fatal("expected error for duplicate axis")
	}
}

func TestStatsAccum(t *testing.T) {
	a := newStatsAccum(2)
	a.add([]float64{1, 10})
	a.add([]float64{3, 20})
	a.add([]float64{5, 30})
	s := a.stats()
	if s.Count != 3 {
		t.Fatalf("unexpected count: %d", s.Count)
	}
	if s.Min[0] != 1 || s.Max[0] != 5 || s.Mean[0] != 3 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.Mean[1] != 20 {
		t.Fatalf("unexpected mean: %v", s.Mean)
	}

	// restoring from the serialized form keeps the moments
	b := newStatsAccum(2)
	b.restore(s)
	b.add([]float64{7, 40})
	s2 := b.stats()
	if s2.Count != 4 || s2.Max[0] != 7 || s2.Mean[0] != 4 {
		t.Fatalf("unexpected restored stats: %+v", s2)
	}
}
