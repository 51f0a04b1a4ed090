package types

import "time"

// Snapshot is the durable form of the cache written to a storage slot.
type Snapshot struct {
	Version   int              `json:"version"`
	Timestamp int64            `json:"timestamp"`
	Queries   []PersistedQuery `json:"queries"`
}

type PersistedQuery struct {
	QueryKey      QueryKey `json:"queryKey"`
	Data          any      `json:"data"`
	DataUpdatedAt int64    `json:"dataUpdatedAt"`
}

func (s *Snapshot) CreatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func (q PersistedQuery) UpdatedAt() time.Time {
	return time.UnixMilli(q.DataUpdatedAt)
}

type PageEvent int32

const (
	EventPageHidden PageEvent = iota
	EventPageUnload
)

func (e PageEvent) String() string {
	switch e {
	case EventPageHidden:
		return "page_hidden"
	case EventPageUnload:
		return "page_unload"
	default:
		return "unknown"
	}
}
