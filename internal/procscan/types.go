package procscan

import (
	"bytes"
	"encoding/json"
)

// ThreadStat holds the cumulative CPU ticks consumed by one thread.
//
// A thread that vanished or could not be parsed is carried as a record with
// Valid=false instead of failing the whole snapshot. On the wire such a record
// is encoded as {"tid":null} with every other field omitted.
type ThreadStat struct {
	TID   int
	Name  string
	UTime uint64
	STime uint64
	Valid bool
}

func invalidThreadStat(tid int) ThreadStat {
	return ThreadStat{TID: tid}
}

type threadStatJSON struct {
	Name  string  `json:"name"`
	TID   *int    `json:"tid"`
	UTime *uint64 `json:"utime"`
	STime *uint64 `json:"stime"`
}

var invalidThreadStatJSON = []byte(`{"tid":null}`)

// MarshalJSON encodes valid records in full and invalid ones as {"tid":null}.
func (t ThreadStat) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return invalidThreadStatJSON, nil
	}
	tid, utime, stime := t.TID, t.UTime, t.STime
	return json.Marshal(threadStatJSON{
		Name:  t.Name,
		TID:   &tid,
		UTime: &utime,
		STime: &stime,
	})
}

// UnmarshalJSON decodes both encodings produced by MarshalJSON.
func (t *ThreadStat) UnmarshalJSON(data []byte) error {
	var raw threadStatJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.TID == nil || bytes.Equal(bytes.TrimSpace(data), invalidThreadStatJSON) {
		*t = ThreadStat{}
		return nil
	}
	*t = ThreadStat{
		TID:   *raw.TID,
		Name:  raw.Name,
		Valid: true,
	}
	if raw.UTime != nil {
		t.UTime = *raw.UTime
	}
	if raw.STime != nil {
		t.STime = *raw.STime
	}
	return nil
}

// ProcessSnapshot is a point-in-time capture of every thread of one process,
// stamped with a single clock reading in ticks.
type ProcessSnapshot struct {
	TicksClockNow float64      `json:"ticksClockNow"`
	ThreadStats   []ThreadStat `json:"threadStats"`
}

// Invalid reports how many thread records in the snapshot are sentinels.
func (s ProcessSnapshot) Invalid() int {
	var n int
	for _, stat := range s.ThreadStats {
		if !stat.Valid {
			n++
		}
	}
	return n
}
