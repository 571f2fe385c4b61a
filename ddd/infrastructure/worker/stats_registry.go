package worker

import "sync"

var (
	statsMu    sync.RWMutex
	laneWorker = map[string]*TranscodeWorker{}
)

func registerWorker(lane string, w *TranscodeWorker) {
	statsMu.Lock()
	defer statsMu.Unlock()
	laneWorker[lane] = w
}

// AllStats snapshots every registered lane worker. Empty in processes
// that host no workers (API-only deployments).
func AllStats() map[string]Stats {
	statsMu.RLock()
	defer statsMu.RUnlock()
	out := make(map[string]Stats, len(laneWorker))
	for lane, w := range laneWorker {
		out[lane] = w.GetStats()
	}
	return out
}
