package buffer

import (
	"time"

	"github.com/dargueta/osfs/common"
)

type SwapEventType string

const (
	SwapLoad      = SwapEventType("LOAD")
	SwapWriteBack = SwapEventType("WRITEBACK")
	SwapEvict     = SwapEventType("EVICT")
	SwapWrite     = SwapEventType("WRITE")
)

// SwapEvent is one entry of the cache's swap log.
type SwapEvent struct {
	Timestamp time.Time     `csv:"timestamp" json:"timestamp"`
	Type      SwapEventType `csv:"type" json:"type"`
	Page      int           `csv:"page" json:"page"`
	Block     int           `csv:"block" json:"block"`
	Owner     int           `csv:"owner" json:"owner"`
}

type Stats struct {
	Hits        uint    `json:"hits"`
	Misses      uint    `json:"misses"`
	PageFaults  uint    `json:"page_faults"`
	WriteBacks  uint    `json:"writebacks"`
	Evictions   uint    `json:"evictions"`
	HitRate     float64 `json:"hit_rate"`
	TotalPages  uint    `json:"total_pages"`
	FreePages   uint    `json:"free_pages"`
	CleanPages  uint    `json:"clean_pages"`
	DirtyPages  uint    `json:"dirty_pages"`
	PinnedPages uint    `json:"pinned_pages"`
}

// PageStatus describes one page of the cache. Block and Owner are -1 for a
// free page.
type PageStatus struct {
	Page        int       `csv:"page" json:"page_id"`
	Block       int       `csv:"block" json:"block_id"`
	Owner       int       `csv:"owner" json:"owner"`
	State       string    `csv:"state" json:"state"`
	Pinned      bool      `csv:"pinned" json:"is_pinned"`
	AccessCount uint      `csv:"access_count" json:"access_count"`
	LastAccess  time.Time `csv:"last_access" json:"access_time"`
	LoadedAt    time.Time `csv:"loaded_at" json:"load_time"`
	Preview     string    `csv:"preview" json:"data_preview"`
}

// AccessResult is what [BufferCache.Access] and [BufferCache.Rewrite] report.
type AccessResult struct {
	Hit   bool           `json:"hit"`
	Block common.BlockID `json:"block_id"`
	Page  int            `json:"page_id"`
}
