package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for skyd metrics.
const (
	ConnectionsTotalKey        = "skyd_connections_total"
	ConnectionsOpenKey         = "skyd_connections_open"
	QueriesTotalKey            = "skyd_queries_total"
	CommitsTotalKey            = "skyd_commits_total"
	CommitSyncsTotalKey        = "skyd_commit_syncs_total"
	CommitStallSecondsTotalKey = "skyd_commit_stall_seconds_total"
	JournalRecordsTotalKey     = "skyd_journal_records_total"
	JournalBytesTotalKey       = "skyd_journal_bytes_total"
	RecoveredRecordsTotalKey   = "skyd_recovered_records_total"
	TruncatedBytesTotalKey     = "skyd_truncated_bytes_total"
	CompactionsTotalKey        = "skyd_compactions_total"
	CompactionSecondsTotalKey  = "skyd_compaction_seconds_total"
	FractalTasksTotalKey       = "skyd_fractal_tasks_total"
	AuthFailuresTotalKey       = "skyd_auth_failures_total"

	Fail    = "fail"
	Ok      = "ok"
	Skipped = "skipped"
)

// Collectors for skyd server metrics.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ConnectionsTotalKey,
		Help: "Cumulative number of accepted client connections.",
	})
	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ConnectionsOpenKey,
		Help: "Number of currently open client connections.",
	})
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: QueriesTotalKey,
		Help: "Cumulative number of executed queries.",
	}, []string{"kind", "status"})
	AuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: AuthFailuresTotalKey,
		Help: "Cumulative number of rejected authentication attempts.",
	})
)

// Collectors for skyd storage engine metrics.
var (
	CommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CommitsTotalKey,
		Help: "Cumulative number of transaction commits.",
	}, []string{"status"})
	CommitSyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommitSyncsTotalKey,
		Help: "Cumulative number of journal sync barriers issued for commits.",
	})
	CommitStallSecondsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommitStallSecondsTotalKey,
		Help: "Cumulative number of seconds commits spent awaiting durability.",
	})
	JournalRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: JournalRecordsTotalKey,
		Help: "Cumulative number of records appended to journals.",
	})
	JournalBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: JournalBytesTotalKey,
		Help: "Cumulative number of bytes appended to journals.",
	})
	RecoveredRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RecoveredRecordsTotalKey,
		Help: "Cumulative number of records replayed during recovery.",
	})
	TruncatedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: TruncatedBytesTotalKey,
		Help: "Cumulative number of journal tail bytes discarded by recovery.",
	})
	CompactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CompactionsTotalKey,
		Help: "Cumulative number of base image compactions.",
	}, []string{"status"})
	CompactionSecondsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CompactionSecondsTotalKey,
		Help: "Cumulative number of seconds spent compacting.",
	})
	FractalTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: FractalTasksTotalKey,
		Help: "Cumulative number of background tasks run, by queue.",
	}, []string{"queue"})
)

// ServerCollectors returns the collectors maintained by the server and
// protocol layers.
func ServerCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectionsTotal,
		ConnectionsOpen,
		QueriesTotal,
		AuthFailuresTotal,
	}
}

// EngineCollectors returns the collectors maintained by the journal,
// transaction, and fractal layers.
func EngineCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommitsTotal,
		CommitSyncsTotal,
		CommitStallSecondsTotal,
		JournalRecordsTotal,
		JournalBytesTotal,
		RecoveredRecordsTotal,
		TruncatedBytesTotal,
		CompactionsTotal,
		CompactionSecondsTotal,
		FractalTasksTotal,
	}
}
