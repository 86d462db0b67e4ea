package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector exports pebble engine metrics for the default backend.
type PebbleCollector struct {
	db *pebble.DB

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesIn      *prometheus.Desc
	walBytesWritten *prometheus.Desc

	diskSpaceUsage *prometheus.Desc
}

// Verify interface implementation at compile time
var _ prometheus.Collector = (*PebbleCollector)(nil)

func NewPebbleCollector(db *pebble.DB) *PebbleCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("urlindex_pebble_"+name, help, nil, nil)
	}

	return &PebbleCollector{
		db: db,

		compactionCount:         desc("compaction_count_total", "Total number of compactions performed"),
		compactionEstimatedDebt: desc("compaction_estimated_debt_bytes", "Estimated number of bytes that need to be compacted to reach a stable state"),
		compactionInProgress:    desc("compaction_in_progress_bytes", "Number of bytes being compacted currently"),

		memtableSize:  desc("memtable_size_bytes", "Current size of the memtable in bytes"),
		memtableCount: desc("memtable_count", "Current count of memtables"),

		walFiles:        desc("wal_files", "Number of live WAL files"),
		walSize:         desc("wal_size_bytes", "Size of live WAL data in bytes"),
		walBytesIn:      desc("wal_bytes_in_total", "Total logical bytes written to the WAL"),
		walBytesWritten: desc("wal_bytes_written_total", "Total physical bytes written to the WAL"),

		diskSpaceUsage: desc("disk_space_usage_bytes", "Total disk space used by the store"),
	}
}

// NewCollector returns a collector for s when its backend exposes engine
// metrics, or nil.
func NewCollector(s Store) prometheus.Collector {
	if ps, ok := Unwrap(s).(*PebbleStore); ok {
		return NewPebbleCollector(ps.DB())
	}
	return nil
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesIn
	ch <- pc.walBytesWritten
	ch <- pc.diskSpaceUsage
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.db.Metrics()

	emit := func(d *prometheus.Desc, vt prometheus.ValueType, v float64) {
		ch <- prometheus.MustNewConstMetric(d, vt, v)
	}

	emit(pc.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	emit(pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	emit(pc.compactionInProgress, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))

	emit(pc.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	emit(pc.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))

	emit(pc.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	emit(pc.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	emit(pc.walBytesIn, prometheus.CounterValue, float64(m.WAL.BytesIn))
	emit(pc.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))

	emit(pc.diskSpaceUsage, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}
