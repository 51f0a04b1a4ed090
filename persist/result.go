package persist

// Result is the outcome of one persist run.
type Result int32

const (
	ResultNone Result = iota
	ResultWritten
	ResultEmpty
	ResultOversized
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultWritten:
		return "written"
	case ResultEmpty:
		return "empty"
	case ResultOversized:
		return "oversized"
	case ResultFailed:
		return "failed"
	default:
		return "none"
	}
}

// HydrateResult is the outcome of restoring the durable slot into the cache.
type HydrateResult int32

const (
	HydrateMiss HydrateResult = iota
	HydrateRestored
	HydrateCorrupt
	HydrateVersionMismatch
	HydrateExpired
)

func (r HydrateResult) String() string {
	switch r {
	case HydrateRestored:
		return "restored"
	case HydrateCorrupt:
		return "corrupt"
	case HydrateVersionMismatch:
		return "version_mismatch"
	case HydrateExpired:
		return "expired"
	default:
		return "miss"
	}
}

// Trigger names what started a persist run.
type Trigger string

const (
	TriggerInterval   Trigger = "interval"
	TriggerPageHidden Trigger = "page_hidden"
	TriggerPageUnload Trigger = "page_unload"
	TriggerManual     Trigger = "manual"
)
