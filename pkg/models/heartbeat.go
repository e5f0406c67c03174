package models

// HeartbeatRecord answers "is some worker of this instance group alive".
// It is overwritten on a fixed interval and expires so a dead fleet reads
// as stale.
type HeartbeatRecord struct {
	OK           bool   `json:"ok"`
	InstanceID   string `json:"instance_id"`
	Mode         string `json:"mode"`
	QueueBackend string `json:"queue_backend"`
	StoreBackend string `json:"store_backend"`
	Provider     string `json:"provider"`
	LastBeatMs   int64  `json:"last_beat_ms"`
	NowMs        int64  `json:"now_ms"`
}
