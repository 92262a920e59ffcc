package mada

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	testTerm int64 = 27 // '#'
	testMax  int64 = 27
)

var testAlphabet = ByteAlphabet{Term: testTerm}

func encode(s string) []int64 {
	key := make([]int64, 0, len(s)+1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		key = append(key, int64(c-'a'+1))
	}
	return append(key, testTerm)
}

func newTestDoubleArray(t *testing.T) *DoubleArray {
	t.Helper()
	dir := t.TempDir()
	d, err := New(filepath.Join(dir, "base"), filepath.Join(dir, "check"), testTerm, testMax, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func mustAdd(t *testing.T, d *DoubleArray, word string) int {
	t.Helper()
	n, err := d.Add(encode(word))
	if err != nil {
		t.Fatalf("Add(%q): %v", word, err)
	}
	return n
}

func TestAddAndSearchSingleKey(t *testing.T) {
	d := newTestDoubleArray(t)

	if n := mustAdd(t, d, "bachelor"); n != 1 {
		t.Fatalf("Add(bachelor) = %d, want 1", n)
	}
	if d.Search(encode("bachelor")) == 0 {
		t.Fatal("Search(bachelor) = 0, want nonzero")
	}
	if d.Search(encode("bachelors")) != 0 {
		t.Fatal("Search(bachelors) != 0, want 0 (not a stored key)")
	}
}

func TestAddSiblingFamily(t *testing.T) {
	d := newTestDoubleArray(t)
	words := []string{"baby", "back", "bachelor", "bad"}

	for _, w := range words {
		if n := mustAdd(t, d, w); n != 1 {
			t.Fatalf("Add(%q) = %d, want 1", w, n)
		}
	}
	if d.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", d.Len())
	}
	for _, w := range words {
		if d.Search(encode(w)) == 0 {
			t.Fatalf("Search(%q) = 0, want nonzero", w)
		}
	}
	if d.Search(encode("ba")) != 0 {
		t.Fatal(`Search("ba") != 0, want 0 (proper prefix, not a key)`)
	}
}

func TestAddForcesRelocation(t *testing.T) {
	d := newTestDoubleArray(t)
	first := []string{"baby", "back", "bachelor", "bad"}
	for _, w := range first {
		mustAdd(t, d, w)
	}

	sizeBefore := d.Size()
	baseSnapshot := make([]int64, sizeBefore+1)
	checkSnapshot := make([]int64, sizeBefore+1)
	for i := int64(1); i <= sizeBefore; i++ {
		baseSnapshot[i] = d.BaseAt(i)
		checkSnapshot[i] = d.CheckAt(i)
	}

	second := []string{"car", "cat", "cap"}
	for _, w := range second {
		if n := mustAdd(t, d, w); n != 1 {
			t.Fatalf("Add(%q) = %d, want 1", w, n)
		}
	}

	relocated := false
	for i := int64(1); i <= sizeBefore; i++ {
		if d.BaseAt(i) != baseSnapshot[i] || d.CheckAt(i) != checkSnapshot[i] {
			relocated = true
			break
		}
	}
	if !relocated {
		t.Fatal("no cell in the pre-existing range changed: expected contention/relocation or free-slot reuse while adding the 'c' family")
	}

	for _, w := range append(append([]string{}, first...), second...) {
		if d.Search(encode(w)) == 0 {
			t.Fatalf("Search(%q) = 0 after relocation, want nonzero", w)
		}
	}
}

func TestRemoveDoesNotAffectSiblings(t *testing.T) {
	d := newTestDoubleArray(t)
	words := []string{"baby", "back", "bachelor", "bad"}
	for _, w := range words {
		mustAdd(t, d, w)
	}

	n, err := d.Remove(encode("back"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 1 {
		t.Fatalf("Remove(back) = %d, want 1", n)
	}
	if d.Search(encode("back")) != 0 {
		t.Fatal("Search(back) != 0 after Remove, want 0")
	}
	for _, w := range []string{"baby", "bachelor", "bad"} {
		if d.Search(encode(w)) == 0 {
			t.Fatalf("Search(%q) = 0 after unrelated Remove, want nonzero", w)
		}
	}

	n, err = d.Remove(encode("back"))
	if err != nil {
		t.Fatalf("Remove (second time): %v", err)
	}
	if n != 0 {
		t.Fatalf("Remove(back) second time = %d, want 0 (already absent)", n)
	}
}

func TestAddIdempotent(t *testing.T) {
	d := newTestDoubleArray(t)
	mustAdd(t, d, "bachelor")
	n, err := d.Add(encode("bachelor"))
	if err != nil {
		t.Fatalf("Add (dup): %v", err)
	}
	if n != 0 {
		t.Fatalf("Add(bachelor) second time = %d, want 0", n)
	}
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base")
	checkPath := filepath.Join(dir, "check")

	words := []string{"baby", "back", "bachelor", "bad", "car", "cat", "cap"}

	d, err := New(basePath, checkPath, testTerm, testMax, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, w := range words {
		mustAdd(t, d, w)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(basePath, checkPath, testTerm, testMax, false)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != int64(len(words)) {
		t.Fatalf("reopened Len() = %d, want %d", reopened.Len(), len(words))
	}
	for _, w := range words {
		if reopened.Search(encode(w)) == 0 {
			t.Fatalf("reopened Search(%q) = 0, want nonzero", w)
		}
	}
}

func TestFreeListInvariant(t *testing.T) {
	d := newTestDoubleArray(t)
	words := []string{"baby", "back", "bachelor", "bad", "car", "cat", "cap"}
	for _, w := range words {
		mustAdd(t, d, w)
	}
	if _, err := d.Remove(encode("back")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if d.EHead() == 0 {
		// Not enough qualifying free slots yet to have activated; that
		// is a valid outcome, not a failure of the invariant.
		return
	}

	tail := d.Size() + 1
	seen := map[int64]bool{}
	prev := int64(0)
	cur := d.EHead()
	for cur != tail {
		if cur <= prev {
			t.Fatalf("free list not strictly ascending: %d after %d", cur, prev)
		}
		if seen[cur] {
			t.Fatalf("free list cycle detected at %d", cur)
		}
		seen[cur] = true
		if d.BaseAt(cur) != 0 {
			t.Fatalf("free list slot %d has nonzero base %d", cur, d.BaseAt(cur))
		}
		if d.CheckAt(cur) >= 0 {
			t.Fatalf("free list slot %d has non-negative check %d", cur, d.CheckAt(cur))
		}
		prev = cur
		cur = -d.CheckAt(cur)
	}
}

func TestOrderIndependence(t *testing.T) {
	words := []string{"baby", "back", "bachelor", "bad", "car", "cat", "cap"}
	orders := [][]string{
		words,
		{"cap", "cat", "car", "bad", "bachelor", "back", "baby"},
		{"bachelor", "baby", "bad", "back", "cap", "car", "cat"},
	}

	for i, order := range orders {
		order := order
		t.Run(order[0], func(t *testing.T) {
			dir := t.TempDir()
			d, err := New(filepath.Join(dir, "base"), filepath.Join(dir, "check"), testTerm, testMax, true)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer d.Close()

			for _, w := range order {
				mustAdd(t, d, w)
			}
			for _, w := range words {
				if d.Search(encode(w)) == 0 {
					t.Fatalf("order %d: Search(%q) = 0, want nonzero", i, w)
				}
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		term, max int64
	}{
		"zero_term":    {0, 27},
		"negative_term": {-1, 27},
		"term_over_max": {30, 27},
		"zero_max":      {1, 0},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(filepath.Join(dir, name+"-base"), filepath.Join(dir, name+"-check"), c.term, c.max, true)
			if err == nil {
				t.Fatal("New: want error, got nil")
			}
			if _, ok := err.(*InvalidConfigError); !ok {
				t.Fatalf("New: want *InvalidConfigError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadWordList(t *testing.T) {
	dir := t.TempDir()
	wordFile := filepath.Join(dir, "words.txt")
	if err := os.WriteFile(wordFile, []byte("baby\nback\nbachelor\nbad\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// LoadWordList maps bytes to symbols up to MaxByteSymbol, so the
	// trie's max must cover that range rather than the 'a'..'z' alphabet.
	d, err := New(filepath.Join(dir, "base"), filepath.Join(dir, "check"), testTerm, MaxByteSymbol, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	count, err := d.LoadWordList(wordFile)
	if err != nil {
		t.Fatalf("LoadWordList: %v", err)
	}
	if count != 4 {
		t.Fatalf("LoadWordList count = %d, want 4", count)
	}
	for _, w := range []string{"baby", "back", "bachelor", "bad"} {
		sym := testAlphabet.Encode(w)
		if d.Search(sym) == 0 {
			t.Fatalf("Search(%q) = 0, want nonzero", w)
		}
	}
}

func TestLoadWordListMissingFile(t *testing.T) {
	d := newTestDoubleArray(t)
	count, err := d.LoadWordList(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	if err != nil {
		t.Fatalf("LoadWordList: %v", err)
	}
	if count != -1 {
		t.Fatalf("LoadWordList count = %d, want -1", count)
	}
}
