package numbat

import (
	"fmt"
	"io"
	"os"

	"github.com/swiftkick-io/numbat/common"
)

// Stats describes the shape of the database: totals, page occupancy and the
// number of distinct keys.
type Stats struct {
	Records    uint32
	Pages      uint32
	PageFill   []uint32
	UniqueKeys uint32
	Version    uint16
}

// Stats scans the index and returns the current statistics.
func (e *Engine) Stats() (Stats, error) {
	if !e.opened {
		return Stats{}, common.ErrNotOpen
	}

	total := e.index.Count()
	pages := (total + common.PageCapacity - 1) / common.PageCapacity
	stats := Stats{
		Records:  total,
		Pages:    pages,
		PageFill: make([]uint32, pages),
		Version:  e.Version(),
	}
	for p := uint32(0); p < pages; p++ {
		stats.PageFill[p] = entriesIn(total, p)
	}

	// Keys are unique by construction; counting distinct values doubles as a
	// cheap consistency sweep.
	var lastKey uint32
	first := true
	for i := uint32(0); i < total; i++ {
		entry, err := e.index.EntryAt(i)
		if err != nil {
			return stats, err
		}
		if first || entry.Key != lastKey {
			stats.UniqueKeys++
			lastKey = entry.Key
			first = false
		}
	}
	return stats, nil
}

// WriteStats formats the statistics into w.
func (e *Engine) WriteStats(w io.Writer) error {
	stats, err := e.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Database statistics:\n")
	fmt.Fprintf(w, "  Format version: %d\n", stats.Version)
	fmt.Fprintf(w, "  Total records:  %d\n", stats.Records)
	fmt.Fprintf(w, "  Total pages:    %d\n", stats.Pages)
	for p, fill := range stats.PageFill {
		fmt.Fprintf(w, "    Page %d: %d entries\n", p, fill)
	}
	fmt.Fprintf(w, "  Unique keys:    %d\n", stats.UniqueKeys)
	return nil
}

// PrintStats writes the statistics to standard output.
func (e *Engine) PrintStats() error {
	return e.WriteStats(os.Stdout)
}
