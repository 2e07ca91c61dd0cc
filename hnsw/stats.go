package hnsw

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level          int
	Records        int
	Connections    int
	AvgConnections float64
}

// Stats is a snapshot of the graph shape.
type Stats struct {
	TotalRecords int
	LiveRecords  int
	Tombstones   int
	MaxLevel     int
	Levels       []LevelStats
}

// Stats returns statistics about the graph.
func (idx *Index) Stats() Stats {
	records := make([]int, idx.maxLevel+1)
	connections := make([]int, idx.maxLevel+1)

	for _, rec := range idx.records {
		if rec.level < len(records) {
			records[rec.level]++
		}
		for l, conns := range rec.neighbors {
			if l < len(connections) {
				connections[l] += len(conns)
			}
		}
	}

	levels := make([]LevelStats, idx.maxLevel+1)
	for l := range levels {
		avg := 0.0
		// Every record at level >= l participates in layer l.
		participants := 0
		for ll := l; ll <= idx.maxLevel; ll++ {
			participants += records[ll]
		}
		if participants > 0 {
			avg = float64(connections[l]) / float64(participants)
		}
		levels[l] = LevelStats{
			Level:          l,
			Records:        participants,
			Connections:    connections[l],
			AvgConnections: avg,
		}
	}

	return Stats{
		TotalRecords: len(idx.records),
		LiveRecords:  idx.live,
		Tombstones:   len(idx.records) - idx.live,
		MaxLevel:     idx.maxLevel,
		Levels:       levels,
	}
}
