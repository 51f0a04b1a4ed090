package types

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// QueryKey is an ordered list of segments identifying a cached request. Segments
// are scalars or small maps of filter parameters.
type QueryKey []any

func (k QueryKey) Hash() string {
	if len(k) == 0 {
		return "[]"
	}
	return encodeSegment([]any(k))
}

func (k QueryKey) Equal(other QueryKey) bool {
	if len(k) != len(other) {
		return false
	}
	return k.Hash() == other.Hash()
}

// HasPrefix reports whether prefix matches the leading segments of k. Every key
// is a prefix of itself.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if encodeSegment(prefix[i]) != encodeSegment(k[i]) {
			return false
		}
	}
	return true
}

func (k QueryKey) Category() string {
	if len(k) == 0 {
		return ""
	}
	if s, ok := k[0].(string); ok {
		return s
	}
	return encodeSegment(k[0])
}

func (k QueryKey) String() string {
	return k.Hash()
}

// Clone returns a copy that does not share the backing array with k.
func (k QueryKey) Clone() QueryKey {
	if k == nil {
		return nil
	}
	out := make(QueryKey, len(k))
	copy(out, k)
	return out
}

func encodeSegment(v any) string {
	// ConfigStd sorts map keys, which makes the encoding canonical.
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

type QueryStatus int32

const (
	StatusPending QueryStatus = iota
	StatusSuccess
	StatusFailed
)

func (s QueryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "error"
	default:
		return "unknown"
	}
}

type FetchStatus int32

const (
	FetchIdle FetchStatus = iota
	FetchFetching
)

func (s FetchStatus) String() string {
	if s == FetchFetching {
		return "fetching"
	}
	return "idle"
}

// QueryEntry is a point-in-time copy of one cached query.
type QueryEntry struct {
	Key            QueryKey
	Status         QueryStatus
	FetchStatus    FetchStatus
	Data           any
	Err            error
	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time
	StaleTime      time.Duration
	GCTime         time.Duration
	LastAccessedAt time.Time
	Invalidated    bool
	Observers      int
	FailureCount   int
}

func (e QueryEntry) IsFresh(now time.Time) bool {
	if e.Invalidated || e.Status != StatusSuccess {
		return false
	}
	return now.Sub(e.DataUpdatedAt) < e.StaleTime
}

func (e QueryEntry) IsCollectible(now time.Time) bool {
	if e.Observers > 0 || e.FetchStatus == FetchFetching {
		return false
	}
	return now.Sub(e.LastAccessedAt) > e.GCTime
}

type FetchFunc func(ctx context.Context) (any, error)

type MutationFunc func(ctx context.Context) (any, error)

type SetDataOptions struct {
	UpdatedAt time.Time
}

type SetDataOption func(*SetDataOptions)

// WithUpdatedAt keeps a historical write timestamp instead of marking the data
// as fetched now.
func WithUpdatedAt(t time.Time) SetDataOption {
	return func(o *SetDataOptions) {
		o.UpdatedAt = t
	}
}

// QueryStore is the part of the cache consumed by persistence.
type QueryStore interface {
	Entries() []QueryEntry
	SetData(key QueryKey, data any, opts ...SetDataOption)
	Sweep() int
}
