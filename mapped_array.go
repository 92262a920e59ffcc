package mada

import (
	"os"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// DefaultInitialCapacity is the element count a freshly created
	// backing file is pre-extended to.
	DefaultInitialCapacity = 4096
	// DefaultGrowthUnit is the element count added per ExpandTo step.
	DefaultGrowthUnit = 4096
)

// Integer is the set of fixed-width signed integer types a MappedArray
// may hold. The index type needs headroom for negative free-list links
// and negative leaf markers, so only signed widths are allowed.
type Integer interface {
	~int32 | ~int64
}

// MappedArray is a growable, persistent, typed array backed by a
// shared memory mapping of a file. Index 0 is a valid cell like any
// other; callers layer header semantics (NUM_KEY, DA_SIZE, ...) on
// top of it.
//
// The zero value is not usable; obtain one with Open. A MappedArray
// must not be copied — only the pointer should be passed around.
type MappedArray[T Integer] struct {
	noCopy noCopy

	path       string
	file       *os.File
	data       []byte
	view       []T
	capacity   int
	growthUnit int
	log        *zap.Logger
}

// noCopy embeds into types that must not be copied after first use.
// go vet's copylocks check flags any accidental copy once this is
// embedded, since it implements sync.Locker.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func elemSize[T Integer]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Open maps path into memory as an array of T. If the file is absent
// or empty it is created and pre-extended to initialCapacity elements;
// otherwise its current length on disk becomes the mapped capacity.
func Open[T Integer](path string, initialCapacity, growthUnit int, log *zap.Logger) (*MappedArray[T], error) {
	if log == nil {
		log = zap.NewNop()
	}
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	if growthUnit <= 0 {
		growthUnit = DefaultGrowthUnit
	}

	size := elemSize[T]()

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	flags := os.O_RDWR
	if statErr != nil {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, wrapStoreErr(OpenFailed, path, err)
	}

	ma := &MappedArray[T]{
		path:       path,
		file:       f,
		growthUnit: growthUnit,
		log:        log,
	}

	if fresh {
		ma.capacity = initialCapacity
		if err := f.Truncate(int64(initialCapacity * size)); err != nil {
			f.Close()
			return nil, wrapStoreErr(ExtendFailed, path, err)
		}
		log.Debug("mapped array created", zap.String("path", path), zap.Int("capacity", ma.capacity))
	} else {
		ma.capacity = int(info.Size()) / size
	}

	if err := ma.mapCurrent(); err != nil {
		f.Close()
		return nil, err
	}

	return ma, nil
}

func (a *MappedArray[T]) mapCurrent() error {
	size := elemSize[T]()
	length := a.capacity * size
	if length == 0 {
		a.data = nil
		a.view = nil
		return nil
	}
	data, err := unix.Mmap(int(a.file.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapStoreErr(MapFailed, a.path, err)
	}
	a.data = data
	a.view = unsafe.Slice((*T)(unsafe.Pointer(&data[0])), a.capacity)
	return nil
}

func (a *MappedArray[T]) unmapCurrent() error {
	if a.data == nil {
		return nil
	}
	if err := unix.Munmap(a.data); err != nil {
		return wrapStoreErr(MapFailed, a.path, err)
	}
	a.data = nil
	a.view = nil
	return nil
}

// At returns the value stored at index i. The caller must have
// ensured capacity via ExpandTo; there is no bounds-growth on read.
func (a *MappedArray[T]) At(i int) T {
	return a.view[i]
}

// Set writes v at index i. The caller must have ensured capacity via
// ExpandTo; there is no bounds-growth on write.
func (a *MappedArray[T]) Set(i int, v T) {
	a.view[i] = v
}

// Len reports the current mapped capacity in elements.
func (a *MappedArray[T]) Len() int {
	return a.capacity
}

// ExpandTo guarantees that index n is accessible, growing the backing
// file and remapping it if necessary. Newly exposed bytes read as
// zero, per the file-truncate-extends-with-zeros guarantee.
func (a *MappedArray[T]) ExpandTo(n int) error {
	if n < a.capacity {
		return nil
	}

	newCap := a.capacity
	if newCap == 0 {
		newCap = a.growthUnit
	}
	for newCap <= n {
		newCap += a.growthUnit
	}

	size := elemSize[T]()
	if err := a.unmapCurrent(); err != nil {
		return err
	}
	if err := a.file.Truncate(int64(newCap * size)); err != nil {
		return wrapStoreErr(ExtendFailed, a.path, err)
	}

	old := a.capacity
	a.capacity = newCap
	if err := a.mapCurrent(); err != nil {
		return err
	}

	a.log.Debug("mapped array grown",
		zap.String("path", a.path),
		zap.Int("old_capacity", old),
		zap.Int("new_capacity", newCap))
	return nil
}

// Clear truncates the file to zero length, then re-extends it to its
// original initial capacity with all cells zero.
func (a *MappedArray[T]) Clear(initialCapacity int) error {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	if err := a.unmapCurrent(); err != nil {
		return err
	}
	if err := a.file.Truncate(0); err != nil {
		return wrapStoreErr(TruncateFailed, a.path, err)
	}
	size := elemSize[T]()
	if err := a.file.Truncate(int64(initialCapacity * size)); err != nil {
		return wrapStoreErr(ExtendFailed, a.path, err)
	}
	a.capacity = initialCapacity
	return a.mapCurrent()
}

// Truncate shrinks the backing file to n elements. It does not unmap
// or remap; callers use it only as a pre-Close shrink to avoid
// leaving an oversized file behind.
func (a *MappedArray[T]) Truncate(n int) error {
	size := elemSize[T]()
	if err := a.file.Truncate(int64(n * size)); err != nil {
		return wrapStoreErr(TruncateFailed, a.path, err)
	}
	return nil
}

// Sync flushes the mapping to disk without unmapping it.
func (a *MappedArray[T]) Sync() error {
	if a.data == nil {
		return nil
	}
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return wrapStoreErr(SyncFailed, a.path, err)
	}
	return nil
}

// Close flushes, unmaps, and closes the backing file descriptor.
func (a *MappedArray[T]) Close() error {
	syncErr := a.Sync()
	unmapErr := a.unmapCurrent()
	closeErr := a.file.Close()
	if closeErr != nil {
		return wrapStoreErr(CloseFailed, a.path, closeErr)
	}
	if unmapErr != nil {
		return unmapErr
	}
	return syncErr
}
