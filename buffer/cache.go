// Package buffer provides a fixed pool of pages caching blocks of a block
// store, with LRU replacement, dirty-page write-back, and page pinning.
//
// The cache never talks to the storage directly. Like the block store's own
// callers, it goes through a pair of callbacks that load a block into a page
// and write a page back to its block. [WrapStore] builds a cache on top of a
// [disk.BlockStore].
package buffer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/disk"
	"github.com/dargueta/osfs/errors"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

const DefaultPageCount = 8
const DefaultSwapLogCapacity = 50

// previewBytes is how much of a page's payload [BufferCache.Status] shows.
const previewBytes = 16

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the backing storage into `buffer`. `buffer` is always
// exactly one block long.
type FetchBlockCallback func(block common.BlockID, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of
// `buffer` to a block in the backing storage. The guarantees in
// [FetchBlockCallback] apply here too.
type FlushBlockCallback func(block common.BlockID, buffer []byte) error

type PageState int

const (
	PageFree PageState = iota
	PageClean
	PageDirty
)

func (state PageState) String() string {
	switch state {
	case PageFree:
		return "FREE"
	case PageClean:
		return "CLEAN"
	case PageDirty:
		return "DIRTY"
	}
	return fmt.Sprintf("PageState(%d)", int(state))
}

type page struct {
	block       common.BlockID
	owner       common.Owner
	data        []byte
	state       PageState
	lastAccess  uint64
	loadedAt    time.Time
	accessedAt  time.Time
	accessCount uint
	pinned      bool
}

func (p *page) reset() {
	p.block = common.NoBlock
	p.owner = common.NoOwner
	for i := range p.data {
		p.data[i] = 0
	}
	p.state = PageFree
	p.lastAccess = 0
	p.loadedAt = time.Time{}
	p.accessedAt = time.Time{}
	p.accessCount = 0
	p.pinned = false
}

type counters struct {
	hits       uint
	misses     uint
	pageFaults uint
	writeBacks uint
	evictions  uint
}

type BufferCache struct {
	mutex     sync.Mutex
	pages     []page
	byBlock   map[common.BlockID]int
	blockSize uint
	fetch     FetchBlockCallback
	flush     FlushBlockCallback
	// totalBlocks bounds the block IDs the cache accepts. 0 means unbounded.
	totalBlocks uint
	// clock orders page accesses. It's a logical counter rather than a wall
	// clock so two accesses never share a timestamp.
	clock   uint64
	stats   counters
	swapLog *common.Ring[SwapEvent]
	// changed is closed and replaced every time a page changes state, waking
	// everyone blocked in AcquireWait.
	changed chan struct{}
	logger  *log.Entry
}

// New creates a cache of `pageCount` pages of `blockSize` bytes each.
func New(
	pageCount uint,
	blockSize uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
	swapLogCapacity int,
) *BufferCache {
	if pageCount == 0 {
		pageCount = DefaultPageCount
	}
	if swapLogCapacity <= 0 {
		swapLogCapacity = DefaultSwapLogCapacity
	}

	cache := &BufferCache{
		pages:     make([]page, pageCount),
		byBlock:   make(map[common.BlockID]int, pageCount),
		blockSize: blockSize,
		fetch:     fetchCb,
		flush:     flushCb,
		swapLog:   common.NewRing[SwapEvent](swapLogCapacity),
		changed:   make(chan struct{}),
		logger:    log.WithField("component", "buffer"),
	}
	for i := range cache.pages {
		cache.pages[i].data = make([]byte, blockSize)
		cache.pages[i].reset()
	}
	return cache
}

// WrapStore creates a [BufferCache] that loads from and writes back to a block
// store.
func WrapStore(store *disk.BlockStore, pageCount uint, swapLogCapacity int) *BufferCache {
	fetchCb := func(block common.BlockID, buffer []byte) error {
		data, err := store.ReadBlock(block)
		if err != nil {
			return err
		}
		copy(buffer, data)
		return nil
	}

	flushCb := func(block common.BlockID, buffer []byte) error {
		return store.WriteBlock(block, buffer)
	}

	cache := New(pageCount, store.Geometry().BlockSize, fetchCb, flushCb, swapLogCapacity)
	cache.SetTotalBlocks(store.Geometry().TotalBlocks)
	return cache
}

// SetTotalBlocks makes the cache reject block IDs outside [0, total) before
// touching any page. A total of 0 turns the check off.
func (cache *BufferCache) SetTotalBlocks(total uint) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.totalBlocks = total
}

func (cache *BufferCache) checkBlock(block common.BlockID) error {
	if block < 0 || (cache.totalBlocks > 0 && uint(block) >= cache.totalBlocks) {
		return errors.ErrFault.WithMessage(
			fmt.Sprintf(
				"invalid block number: %d not in range [0, %d)", block, cache.totalBlocks))
	}
	return nil
}

func (cache *BufferCache) PageCount() int {
	return len(cache.pages)
}

func (cache *BufferCache) BlockSize() uint {
	return cache.blockSize
}

////////////////////////////////////////////////////////////////////////////////
// Page acquisition

// Acquire returns the index of the page holding `block`, loading the block on
// a miss. If every page is pinned, it fails with [errors.ErrNoBufferSpace] and
// nothing changes.
func (cache *BufferCache) Acquire(block common.BlockID, who common.Owner) (int, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return cache.acquire(block, who)
}

func (cache *BufferCache) acquire(block common.BlockID, who common.Owner) (int, error) {
	if err := cache.checkBlock(block); err != nil {
		return -1, err
	}
	if pageIndex, ok := cache.byBlock[block]; ok {
		cache.touch(pageIndex)
		cache.stats.hits++
		return pageIndex, nil
	}

	cache.stats.misses++
	pageIndex := cache.findFreePage()
	if pageIndex < 0 {
		pageIndex = cache.findVictim()
		if pageIndex < 0 {
			return -1, errors.ErrNoBufferSpace.WithMessage(
				fmt.Sprintf("all %d pages are pinned", len(cache.pages)))
		}
		if err := cache.evict(pageIndex); err != nil {
			return -1, err
		}
	}

	if err := cache.load(pageIndex, block, who); err != nil {
		return -1, err
	}
	return pageIndex, nil
}

// AcquireWait is like [BufferCache.Acquire], except that if every page is
// pinned it waits for a page to change state and tries again. It gives up when
// `ctx` is done.
func (cache *BufferCache) AcquireWait(
	ctx context.Context, block common.BlockID, who common.Owner,
) (int, error) {
	for {
		cache.mutex.Lock()
		pageIndex, err := cache.acquire(block, who)
		changed := cache.changed
		cache.mutex.Unlock()

		if err == nil || !errors.Is(err, errors.ErrNoBufferSpace) {
			return pageIndex, err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return -1, errors.ErrWouldBlock.Wrap(ctx.Err())
		}
	}
}

func (cache *BufferCache) findFreePage() int {
	for i := range cache.pages {
		if cache.pages[i].state == PageFree {
			return i
		}
	}
	return -1
}

// findVictim picks the unpinned, bound page with the oldest access. Ties go to
// the lowest page index.
func (cache *BufferCache) findVictim() int {
	victim := -1
	for i := range cache.pages {
		p := &cache.pages[i]
		if p.pinned || p.state == PageFree {
			continue
		}
		if victim < 0 || p.lastAccess < cache.pages[victim].lastAccess {
			victim = i
		}
	}
	return victim
}

func (cache *BufferCache) touch(pageIndex int) {
	cache.clock++
	p := &cache.pages[pageIndex]
	p.lastAccess = cache.clock
	p.accessedAt = time.Now()
	p.accessCount++
}

func (cache *BufferCache) load(pageIndex int, block common.BlockID, who common.Owner) error {
	p := &cache.pages[pageIndex]
	if err := cache.fetch(block, p.data); err != nil {
		p.reset()
		return err
	}

	cache.clock++
	now := time.Now()
	p.block = block
	p.owner = who
	p.state = PageClean
	p.lastAccess = cache.clock
	p.loadedAt = now
	p.accessedAt = now
	p.accessCount = 1
	cache.byBlock[block] = pageIndex

	cache.stats.pageFaults++
	cache.logSwap(SwapLoad, pageIndex, block, who)
	cache.logger.WithFields(log.Fields{
		"page":  pageIndex,
		"block": block,
		"owner": who,
	}).Debug("loaded block")
	cache.broadcast()
	return nil
}

// writeBack writes a dirty page to its block and marks it clean. Clean and free
// pages are left alone.
func (cache *BufferCache) writeBack(pageIndex int) error {
	p := &cache.pages[pageIndex]
	if p.state != PageDirty || p.block == common.NoBlock {
		return nil
	}

	if err := cache.flush(p.block, p.data); err != nil {
		return err
	}
	p.state = PageClean
	cache.stats.writeBacks++
	cache.logSwap(SwapWriteBack, pageIndex, p.block, p.owner)
	cache.logger.WithFields(log.Fields{
		"page":  pageIndex,
		"block": p.block,
	}).Debug("wrote back page")
	cache.broadcast()
	return nil
}

// evict writes back the page if it's dirty, then unbinds it. If the write-back
// fails the page stays bound and dirty.
func (cache *BufferCache) evict(pageIndex int) error {
	p := &cache.pages[pageIndex]
	if p.state == PageFree {
		return nil
	}
	if err := cache.writeBack(pageIndex); err != nil {
		return err
	}

	cache.logSwap(SwapEvict, pageIndex, p.block, p.owner)
	cache.logger.WithFields(log.Fields{
		"page":  pageIndex,
		"block": p.block,
	}).Debug("evicted page")
	cache.unbind(pageIndex)
	cache.stats.evictions++
	return nil
}

func (cache *BufferCache) unbind(pageIndex int) {
	p := &cache.pages[pageIndex]
	if p.block != common.NoBlock {
		delete(cache.byBlock, p.block)
	}
	p.reset()
	cache.broadcast()
}

func (cache *BufferCache) broadcast() {
	close(cache.changed)
	cache.changed = make(chan struct{})
}

func (cache *BufferCache) checkPage(pageIndex int) error {
	if pageIndex < 0 || pageIndex >= len(cache.pages) {
		return errors.ErrFault.WithMessage(
			fmt.Sprintf(
				"invalid page number: %d not in range [0, %d)",
				pageIndex,
				len(cache.pages),
			),
		)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Data access

// Read returns a copy of a block's contents, loading it on a miss.
func (cache *BufferCache) Read(block common.BlockID, who common.Owner) ([]byte, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	pageIndex, err := cache.acquire(block, who)
	if err != nil {
		return nil, err
	}

	data := make([]byte, cache.blockSize)
	copy(data, cache.pages[pageIndex].data)
	return data, nil
}

// Write replaces the entire payload of the page holding `block` and marks it
// dirty. `data` is zero-padded or truncated to exactly one block. Nothing
// reaches the backing storage until the page is flushed or evicted.
func (cache *BufferCache) Write(block common.BlockID, data []byte, who common.Owner) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	pageIndex, err := cache.acquire(block, who)
	if err != nil {
		return err
	}

	p := &cache.pages[pageIndex]
	n := copy(p.data, data)
	for i := n; i < len(p.data); i++ {
		p.data[i] = 0
	}
	p.state = PageDirty
	cache.clock++
	p.lastAccess = cache.clock
	p.accessedAt = time.Now()
	cache.broadcast()
	return nil
}

// Access touches a block as a read would, and reports whether it was already
// cached.
func (cache *BufferCache) Access(block common.BlockID, who common.Owner) (AccessResult, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	_, wasCached := cache.byBlock[block]
	pageIndex, err := cache.acquire(block, who)
	if err != nil {
		return AccessResult{}, err
	}
	return AccessResult{Hit: wasCached, Block: block, Page: pageIndex}, nil
}

// Rewrite marks a block's page dirty without changing its contents, as if the
// block had been overwritten with its own data.
func (cache *BufferCache) Rewrite(block common.BlockID, who common.Owner) (AccessResult, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	_, wasCached := cache.byBlock[block]
	pageIndex, err := cache.acquire(block, who)
	if err != nil {
		return AccessResult{}, err
	}

	p := &cache.pages[pageIndex]
	p.state = PageDirty
	cache.touch(pageIndex)
	cache.logSwap(SwapWrite, pageIndex, block, who)
	cache.broadcast()
	return AccessResult{Hit: wasCached, Block: block, Page: pageIndex}, nil
}

// LookupPage returns the index of the page bound to `block` without touching
// it.
func (cache *BufferCache) LookupPage(block common.BlockID) (int, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	pageIndex, ok := cache.byBlock[block]
	return pageIndex, ok
}

////////////////////////////////////////////////////////////////////////////////
// Pinning

// Pin excludes a bound page from eviction. It doesn't stop anyone from reading
// or writing the page.
func (cache *BufferCache) Pin(pageIndex int) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if err := cache.checkPage(pageIndex); err != nil {
		return err
	}
	if cache.pages[pageIndex].state == PageFree {
		return errors.ErrNotPermitted.WithMessage(
			fmt.Sprintf("page %d is free and can't be pinned", pageIndex))
	}
	cache.pages[pageIndex].pinned = true
	return nil
}

func (cache *BufferCache) Unpin(pageIndex int) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if err := cache.checkPage(pageIndex); err != nil {
		return err
	}
	cache.pages[pageIndex].pinned = false
	cache.broadcast()
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Write-back and release

// Flush writes a page back to its block if it's dirty. The page stays bound.
func (cache *BufferCache) Flush(pageIndex int) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if err := cache.checkPage(pageIndex); err != nil {
		return err
	}
	return cache.writeBack(pageIndex)
}

// FlushAll writes back every dirty page. It tries every page even if some
// fail, and returns all the errors together.
func (cache *BufferCache) FlushAll() error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	var result *multierror.Error
	for i := range cache.pages {
		if err := cache.writeBack(i); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return errors.CastToDriverError(result.ErrorOrNil())
	}
	return nil
}

// ReleasePagesOf flushes and unbinds every page loaded on behalf of `who`,
// pinned or not.
func (cache *BufferCache) ReleasePagesOf(who common.Owner) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	var result *multierror.Error
	for i := range cache.pages {
		p := &cache.pages[i]
		if p.state == PageFree || p.owner != who {
			continue
		}
		if err := cache.writeBack(i); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		cache.unbind(i)
	}
	if result != nil {
		return errors.CastToDriverError(result.ErrorOrNil())
	}
	return nil
}

// Invalidate unbinds the page holding `block`, if any, discarding its contents
// without writing them back. Call this before freeing a block so a stale page
// can never overwrite it later.
func (cache *BufferCache) Invalidate(block common.BlockID) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	pageIndex, ok := cache.byBlock[block]
	if !ok {
		return
	}
	cache.logger.WithFields(log.Fields{
		"page":  pageIndex,
		"block": block,
	}).Debug("invalidated page")
	cache.unbind(pageIndex)
}

// Reset unbinds every page without writing anything back, and clears the
// statistics and swap log. It's only meant for when the underlying volume has
// been reformatted.
func (cache *BufferCache) Reset() {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	for i := range cache.pages {
		cache.pages[i].reset()
	}
	cache.byBlock = make(map[common.BlockID]int, len(cache.pages))
	cache.stats = counters{}
	cache.swapLog.Reset()
	cache.clock = 0
	cache.broadcast()
}

////////////////////////////////////////////////////////////////////////////////
// Observability

func (cache *BufferCache) Stats() Stats {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	stats := Stats{
		Hits:       cache.stats.hits,
		Misses:     cache.stats.misses,
		PageFaults: cache.stats.pageFaults,
		WriteBacks: cache.stats.writeBacks,
		Evictions:  cache.stats.evictions,
		TotalPages: uint(len(cache.pages)),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	for i := range cache.pages {
		switch cache.pages[i].state {
		case PageFree:
			stats.FreePages++
		case PageClean:
			stats.CleanPages++
		case PageDirty:
			stats.DirtyPages++
		}
		if cache.pages[i].pinned {
			stats.PinnedPages++
		}
	}
	return stats
}

// Status returns a snapshot of the page table.
func (cache *BufferCache) Status() []PageStatus {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	status := make([]PageStatus, len(cache.pages))
	for i := range cache.pages {
		p := &cache.pages[i]
		status[i] = PageStatus{
			Page:        i,
			Block:       int(p.block),
			Owner:       int(p.owner),
			State:       p.state.String(),
			Pinned:      p.pinned,
			AccessCount: p.accessCount,
			LastAccess:  p.accessedAt,
			LoadedAt:    p.loadedAt,
		}
		if p.state != PageFree {
			n := previewBytes
			if len(p.data) < n {
				n = len(p.data)
			}
			status[i].Preview = hex.EncodeToString(p.data[:n])
		}
	}
	return status
}

// SwapLog returns a copy of the most recent load, write-back, and eviction
// events, oldest first.
func (cache *BufferCache) SwapLog() []SwapEvent {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return cache.swapLog.Snapshot()
}

func (cache *BufferCache) logSwap(
	eventType SwapEventType, pageIndex int, block common.BlockID, who common.Owner,
) {
	cache.swapLog.Push(SwapEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		Page:      pageIndex,
		Block:     int(block),
		Owner:     int(who),
	})
}
