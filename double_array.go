package mada

import (
	"bufio"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// DoubleArray is a persistent double-array trie. It owns two
// MappedArrays (BASE and CHECK) and maintains the double-array
// invariant across Add, Remove, and growth.
//
// A DoubleArray must not be copied; use New to obtain one and Close
// when done with it. It is not safe for concurrent use.
type DoubleArray struct {
	noCopy noCopy

	base  *MappedArray[int64]
	check *MappedArray[int64]

	term int64
	max  int64

	// eHead is the in-memory head of the free-slot list. 0 means the
	// list is inactive. It is not persisted; a reopened trie starts
	// Inactive and re-activates lazily per the usual threshold rule.
	eHead int64

	freeListThreshold int
	log               *zap.Logger
}

// New opens or creates a double-array trie backed by basePath and
// checkPath. term must be in (0, max]; max is the largest valid
// symbol value. When initialize is true, both files are truncated and
// rebuilt to the blank root state; otherwise they are reopened as-is.
func New(basePath, checkPath string, term, max int64, initialize bool, opts ...Option) (*DoubleArray, error) {
	if term <= 0 || max <= 0 || term > max {
		return nil, &InvalidConfigError{
			Reason: fmt.Sprintf("term=%d max=%d: require 0 < term <= max", term, max),
		}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	baseArr, err := Open[int64](basePath, cfg.initialCapacity, cfg.growthUnit, cfg.logger)
	if err != nil {
		return nil, err
	}
	checkArr, err := Open[int64](checkPath, cfg.initialCapacity, cfg.growthUnit, cfg.logger)
	if err != nil {
		_ = baseArr.Close()
		return nil, err
	}

	d := &DoubleArray{
		base:              baseArr,
		check:             checkArr,
		term:              term,
		max:               max,
		freeListThreshold: cfg.freeListThreshold,
		log:               cfg.logger,
	}

	if initialize {
		if err := baseArr.Clear(cfg.initialCapacity); err != nil {
			return nil, err
		}
		if err := checkArr.Clear(cfg.initialCapacity); err != nil {
			return nil, err
		}
		baseArr.Set(0, 0) // NUM_KEY
		baseArr.Set(1, 1) // root: base[1] = 1
		checkArr.Set(0, 1) // DA_SIZE
		checkArr.Set(1, 0) // root: check[1] = 0
	} else {
		sz := int(checkArr.At(0))
		if sz < 1 {
			sz = 1
		}
		if err := baseArr.ExpandTo(sz); err != nil {
			return nil, err
		}
		if err := checkArr.ExpandTo(sz); err != nil {
			return nil, err
		}
	}

	d.log.Info("double array opened",
		zap.String("base_path", basePath),
		zap.String("check_path", checkPath),
		zap.Bool("initialize", initialize),
		zap.Int64("num_key", d.numKey()),
		zap.Int64("da_size", d.daSize()))

	return d, nil
}

func (d *DoubleArray) daSize() int64    { return d.check.At(0) }
func (d *DoubleArray) setDaSize(v int64) { d.check.Set(0, v) }
func (d *DoubleArray) numKey() int64    { return d.base.At(0) }
func (d *DoubleArray) setNumKey(v int64) { d.base.Set(0, v) }

// Len reports NUM_KEY, the number of keys currently present.
func (d *DoubleArray) Len() int64 { return d.numKey() }

// Size reports DA_SIZE, the highest in-use index.
func (d *DoubleArray) Size() int64 { return d.daSize() }

// EHead reports the current free-list head (0 if inactive).
func (d *DoubleArray) EHead() int64 { return d.eHead }

// BaseAt and CheckAt expose raw cell values for diagnostics and
// invariant checks; they are not part of the trie's search/mutate
// contract.
func (d *DoubleArray) BaseAt(i int64) int64  { return d.base.At(int(i)) }
func (d *DoubleArray) CheckAt(i int64) int64 { return d.check.At(int(i)) }

// forward computes base[s] + c and returns it if it names a legal
// transition of s on c, else 0.
func (d *DoubleArray) forward(s, c int64) int64 {
	t := d.base.At(int(s)) + c
	if t < 1 || t > d.daSize() {
		return 0
	}
	if d.check.At(int(t)) != s {
		return 0
	}
	return t
}

// ensureSize grows both arrays so index i is valid, extending the
// free list over newly exposed cells if it is active.
func (d *DoubleArray) ensureSize(i int64) error {
	oldSize := d.daSize()
	if i <= oldSize {
		return nil
	}
	if err := d.base.ExpandTo(int(i)); err != nil {
		return err
	}
	if err := d.check.ExpandTo(int(i)); err != nil {
		return err
	}
	d.setDaSize(i)

	if d.eHead != 0 {
		d.appendFreeRange(oldSize+1, i)
	}

	d.log.Debug("double array grown",
		zap.Int64("old_da_size", oldSize),
		zap.Int64("new_da_size", i))
	return nil
}

// writeBase is W_Base: write base[i] = v, growing the arrays first if
// i exceeds the current DA_SIZE.
func (d *DoubleArray) writeBase(i, v int64) error {
	if err := d.ensureSize(i); err != nil {
		return err
	}
	d.base.Set(int(i), v)
	return nil
}

// writeCheck is W_Check: write check[i] = v, growing the arrays first
// if necessary and maintaining free-list order per spec.md section 4.2.2.
func (d *DoubleArray) writeCheck(i, v int64) error {
	if err := d.ensureSize(i); err != nil {
		return err
	}

	if d.eHead != 0 {
		old := d.check.At(int(i))
		if old < 0 && v > 0 {
			d.unlinkFree(i, old)
			d.check.Set(int(i), v)
			return nil
		}
		if old > 0 && v == 0 {
			d.linkFree(i)
			return nil
		}
	}

	d.check.Set(int(i), v)
	return nil
}

// unlinkFree removes slot i, whose current (pre-overwrite) check value
// is oldLink (a negative free-list link), from the free list.
func (d *DoubleArray) unlinkFree(i, oldLink int64) {
	next := -oldLink
	if d.eHead == i {
		d.eHead = next
		return
	}
	cur := d.eHead
	for {
		curNext := -d.check.At(int(cur))
		if curNext == i {
			d.check.Set(int(cur), -next)
			return
		}
		cur = curNext
	}
}

// linkFree splices newly-freed slot i into the free list in ascending
// order. i's check cell must currently hold a value the caller is
// about to free (check[i] == 0 or a stale owner); linkFree writes the
// final negative link value itself.
func (d *DoubleArray) linkFree(i int64) {
	tail := d.daSize() + 1

	if d.eHead == tail || d.eHead > i {
		d.check.Set(int(i), -d.eHead)
		d.eHead = i
		return
	}

	cur := d.eHead
	for {
		next := -d.check.At(int(cur))
		if next > i || next == tail {
			d.check.Set(int(i), -next)
			d.check.Set(int(cur), -i)
			return
		}
		cur = next
	}
}

// appendFreeRange links newly exposed cells [from, to] onto the tail
// of an already-active free list.
func (d *DoubleArray) appendFreeRange(from, to int64) {
	oldTail := from // the sentinel value the previous tail pointed at
	if d.eHead == oldTail {
		d.eHead = from
	} else {
		cur := d.eHead
		for {
			next := -d.check.At(int(cur))
			if next == oldTail {
				d.check.Set(int(cur), -from)
				break
			}
			cur = next
		}
	}
	for idx := from; idx < to; idx++ {
		d.check.Set(int(idx), -(idx + 1))
	}
	d.check.Set(int(to), -(to + 1))
}

// tryActivateFreeList scans [1, DA_SIZE] for qualifying free cells
// (check <= 0, base == 0) and, if at least freeListThreshold of them
// exist, links them into an ascending free list.
func (d *DoubleArray) tryActivateFreeList() {
	if d.eHead != 0 {
		return
	}
	sz := d.daSize()
	var free []int64
	for idx := int64(1); idx <= sz; idx++ {
		if d.check.At(int(idx)) <= 0 && d.base.At(int(idx)) == 0 {
			free = append(free, idx)
		}
	}
	if len(free) < d.freeListThreshold {
		return
	}
	d.eHead = free[0]
	for k := 0; k < len(free)-1; k++ {
		d.check.Set(int(free[k]), -free[k+1])
	}
	d.check.Set(int(free[len(free)-1]), -(sz + 1))

	d.log.Info("free list activated", zap.Int("slots", len(free)), zap.Int64("e_head", d.eHead))
}

func minSymbol(symbols []int64) int64 {
	m := symbols[0]
	for _, c := range symbols[1:] {
		if c < m {
			m = c
		}
	}
	return m
}

// xCheck finds the smallest q >= 1 such that q+c is free for every
// c in symbols. Uses the free-list when active, else a linear scan;
// both must agree on the minimal q.
func (d *DoubleArray) xCheck(symbols []int64) int64 {
	if d.eHead != 0 {
		return d.xCheckFreeList(symbols)
	}
	return d.xCheckLinear(symbols)
}

func (d *DoubleArray) fits(q int64, symbols []int64) bool {
	sz := d.daSize()
	for _, c := range symbols {
		t := q + c
		if t <= sz && d.check.At(int(t)) > 0 {
			return false
		}
	}
	return true
}

func (d *DoubleArray) xCheckLinear(symbols []int64) int64 {
	sz := d.daSize()
	for q := int64(1); q <= sz+1; q++ {
		if d.fits(q, symbols) {
			return q
		}
	}
	return sz + 1
}

func (d *DoubleArray) xCheckFreeList(symbols []int64) int64 {
	c1 := minSymbol(symbols)
	sz := d.daSize()
	tail := sz + 1

	cur := d.eHead
	for cur != tail {
		q := cur - c1
		if q >= 1 && d.fits(q, symbols) {
			return q
		}
		cur = -d.check.At(int(cur))
	}
	// No in-range free slot fits: the smallest q places every symbol
	// past DA_SIZE, which is what the linear scan returns as well.
	if q := tail - c1; q >= 1 {
		return q
	}
	return 1
}

// getLabel returns R(s), the symbols labeling s's current outgoing
// transitions.
func (d *DoubleArray) getLabel(s int64) []int64 {
	var labels []int64
	sz := d.daSize()
	bs := d.base.At(int(s))
	for c := int64(1); ; c++ {
		t := bs + c
		if t >= 1 && t <= sz && d.check.At(int(t)) == s {
			labels = append(labels, c)
		}
		if c == d.max {
			break
		}
	}
	return labels
}

// modify relocates index's family to a fresh base that also
// accommodates the pending symbol a, rewriting grandchildren's parent
// pointers along the way. This is Strategy M of spec.md section 4.2.4.
func (d *DoubleArray) modify(index, a int64) error {
	labels := d.getLabel(index)
	candidates := make([]int64, 0, len(labels)+1)
	candidates = append(candidates, labels...)
	candidates = append(candidates, a)

	newBase := d.xCheck(candidates)
	oldBase := d.base.At(int(index))

	for _, c := range labels {
		oldT := oldBase + c
		newT := newBase + c

		if err := d.writeCheck(newT, index); err != nil {
			return err
		}
		childBase := d.base.At(int(oldT))
		if err := d.writeBase(newT, childBase); err != nil {
			return err
		}

		if childBase > 0 {
			for g := childBase + 1; g <= childBase+d.max; g++ {
				if g >= 1 && g <= d.daSize() && d.check.At(int(g)) == oldT {
					if err := d.writeCheck(g, newT); err != nil {
						return err
					}
				}
			}
		}

		if err := d.writeBase(oldT, 0); err != nil {
			return err
		}
		if err := d.writeCheck(oldT, 0); err != nil {
			return err
		}
	}

	d.log.Debug("family relocated",
		zap.Int64("state", index),
		zap.Int64("old_base", oldBase),
		zap.Int64("new_base", newBase),
		zap.Int("family_size", len(labels)))

	return d.writeBase(index, newBase)
}

// insert implements spec.md section 4.2.4: index is the state reached
// after consuming pos symbols of key; key[pos] is the first symbol
// with no existing transition.
func (d *DoubleArray) insert(index int64, pos int, key []int64) error {
	a := key[pos]
	t := d.base.At(int(index)) + a
	if t >= 1 && t <= d.daSize() && d.check.At(int(t)) > 0 {
		if err := d.modify(index, a); err != nil {
			return err
		}
		t = d.base.At(int(index)) + a
	}

	if err := d.writeCheck(t, index); err != nil {
		return err
	}
	index = t
	pos++

	for pos < len(key) {
		c := key[pos]
		q := d.xCheck([]int64{c})
		if err := d.writeBase(index, q); err != nil {
			return err
		}
		t = q + c
		if err := d.writeCheck(t, index); err != nil {
			return err
		}
		index = t
		pos++
	}

	return d.writeBase(index, -1)
}

// Search returns the leaf index for key if it is present, else 0.
// key must be a sequence of symbols in [1, MAX] ending in TERM.
func (d *DoubleArray) Search(key []int64) int64 {
	if d.numKey() == 0 {
		return 0
	}
	index := int64(1)
	for _, c := range key {
		t := d.forward(index, c)
		if t == 0 {
			return 0
		}
		index = t
	}
	if d.base.At(int(index)) < 0 {
		return index
	}
	return 0
}

// Add inserts key, returning 1 if it was newly added or 0 if it was
// already present.
func (d *DoubleArray) Add(key []int64) (int, error) {
	index := int64(1)
	pos := 0
	for pos < len(key) {
		t := d.forward(index, key[pos])
		if t == 0 {
			break
		}
		index = t
		pos++
	}

	if pos == len(key) {
		if d.base.At(int(index)) < 0 {
			return 0, nil
		}
		// The full key walked to an internal, non-leaf state: the
		// caller passed a key without its own terminal symbol, or one
		// that collides with an internal prefix state. Malformed
		// input is undefined behavior per the key contract.
		panic("mada: key consumed without reaching a leaf (missing terminal symbol?)")
	}

	if err := d.insert(index, pos, key); err != nil {
		return 0, err
	}
	d.setNumKey(d.numKey() + 1)
	d.tryActivateFreeList()
	return 1, nil
}

// Remove deletes key, returning 1 if it was present or 0 if absent.
func (d *DoubleArray) Remove(key []int64) (int, error) {
	index := int64(1)
	for _, c := range key {
		t := d.forward(index, c)
		if t == 0 {
			return 0, nil
		}
		index = t
	}
	if d.base.At(int(index)) >= 0 {
		return 0, nil
	}
	if err := d.writeBase(index, 0); err != nil {
		return 0, err
	}
	if err := d.writeCheck(index, 0); err != nil {
		return 0, err
	}
	d.setNumKey(d.numKey() - 1)
	return 1, nil
}

// LoadWordList reads newline-separated words from path, replaces each
// trailing newline with the trie's terminal symbol, and Adds each one.
// Bytes are mapped to symbols as int64(b)+1 so that symbol 0 stays
// reserved. It returns the number of keys newly added, or -1 if path
// could not be opened.
func (d *DoubleArray) LoadWordList(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, nil
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		key := make([]int64, 0, len(line)+1)
		for _, b := range line {
			key = append(key, int64(b)+1)
		}
		key = append(key, d.term)

		n, err := d.Add(key)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, scanner.Err()
}

// Flush syncs both backing arrays to disk without closing them.
func (d *DoubleArray) Flush() error {
	if err := d.base.Sync(); err != nil {
		return err
	}
	return d.check.Sync()
}

// Close truncates both backing arrays to their in-use size and closes
// them, returning the first error encountered while still attempting
// every step.
func (d *DoubleArray) Close() error {
	sz := int(d.daSize()) + 1

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(d.base.Truncate(sz))
	record(d.base.Close())
	record(d.check.Truncate(sz))
	record(d.check.Close())

	return firstErr
}

// String renders a short diagnostic summary, for %v formatting.
func (d *DoubleArray) String() string {
	return fmt.Sprintf("DoubleArray{da_size=%d, num_key=%d, e_head=%d}", d.daSize(), d.numKey(), d.eHead)
}

// Dump logs every in-use BASE/CHECK cell at Info level. Diagnostic
// only; not part of the behavioral contract.
func (d *DoubleArray) Dump() {
	sz := d.daSize()
	for i := int64(1); i <= sz; i++ {
		d.log.Info("cell",
			zap.Int64("index", i),
			zap.Int64("base", d.base.At(int(i))),
			zap.Int64("check", d.check.At(int(i))))
	}
}

// PrintInfo logs header-level diagnostics at Info level. Diagnostic
// only; not part of the behavioral contract.
func (d *DoubleArray) PrintInfo() {
	d.log.Info("double array info",
		zap.Int64("num_key", d.numKey()),
		zap.Int64("da_size", d.daSize()),
		zap.Int64("e_head", d.eHead))
}
