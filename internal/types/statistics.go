package types

// Statistics is the aggregate view returned by getStatistics
type Statistics struct {
	TotalErrors      int `json:"total_errors"`
	ResolvedErrors   int `json:"resolved_errors"`
	UnresolvedErrors int `json:"unresolved_errors"`
	CriticalErrors   int `json:"critical_errors"`
	ErrorsLast24h    int `json:"errors_last_24h"`

	DistinctPatterns  int `json:"distinct_patterns"`
	RecurringPatterns int `json:"recurring_patterns"`
	KnownPatterns     int `json:"known_patterns"`

	TotalSolutions      int            `json:"total_solutions"`
	AvgEffectiveness    float64        `json:"avg_effectiveness"`
	SolutionsByApplier  map[string]int `json:"solutions_by_applier"`
	TotalDecisions      int            `json:"total_decisions"`
	GatesByStatus       map[string]int `json:"gates_by_status"`
	MilestonesCompleted int            `json:"milestones_completed"`

	// QualityRatio is errors per passed gate; AIEffectiveness is the mean
	// effectiveness of AI-applied solutions.
	QualityRatio    float64 `json:"quality_ratio"`
	AIEffectiveness float64 `json:"ai_effectiveness"`
	DailyVelocity   int     `json:"daily_velocity"`

	Version     string `json:"version"`
	SyncBacklog int    `json:"sync_backlog"`
}
