package config

import "fmt"

// Default instance ids used when INSTANCE_ID is unset.
const (
	DefaultSoloInstanceID  = "solo"
	DefaultSplitInstanceID = "default"
)

// Backends is the effective, resolved backend selection for the process.
type Backends struct {
	RunMode      string
	StoreBackend string
	QueueBackend string
	InstanceID   string

	// SoloOverride is set when solo mode discarded a shared backend the
	// environment asked for.
	SoloOverride bool
}

// Shared reports whether any component talks to the shared store.
func (b Backends) Shared() bool {
	return b.StoreBackend == BackendShared || b.QueueBackend == BackendShared
}

// Resolve deterministically derives the effective backends from raw
// configuration.
//
// Solo forces both backends local even when shared settings are present;
// a shared store is never used unless the operator asked for split mode.
// Split requires both backends shared and a shared store URL.
func Resolve(bc BackendConfig) (Backends, error) {
	switch bc.RunMode {
	case ModeSolo, "":
		b := Backends{
			RunMode:      ModeSolo,
			StoreBackend: BackendLocal,
			QueueBackend: BackendLocal,
			InstanceID:   bc.InstanceID,
		}
		if bc.StoreBackend == BackendShared || bc.QueueBackend == BackendShared {
			b.SoloOverride = true
		}
		if b.InstanceID == "" {
			b.InstanceID = DefaultSoloInstanceID
		}
		return b, nil

	case ModeSplit:
		store := orDefault(bc.StoreBackend, BackendShared)
		queue := orDefault(bc.QueueBackend, BackendShared)
		if store != BackendShared || queue != BackendShared {
			return Backends{}, fmt.Errorf("split mode requires STORE_BACKEND and QUEUE_BACKEND to be shared; got store=%s queue=%s",
				store, queue)
		}
		if bc.SharedStoreURL == "" {
			return Backends{}, fmt.Errorf("SHARED_STORE_URL is required when the shared backend is selected")
		}
		b := Backends{
			RunMode:      ModeSplit,
			StoreBackend: store,
			QueueBackend: queue,
			InstanceID:   bc.InstanceID,
		}
		if b.InstanceID == "" {
			b.InstanceID = DefaultSplitInstanceID
		}
		return b, nil

	default:
		return Backends{}, fmt.Errorf("unknown run mode %q: must be one of solo, split", bc.RunMode)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
