package metrics

import "time"

// Noop discards everything; used when METRICS_ENABLED is false and in tests.
type Noop struct{}

var _ Recorder = (*Noop)(nil)

func NewNoop() Recorder {
	return &Noop{}
}

func (n *Noop) RecordPublish(platform, outcome string, d time.Duration)           {}
func (n *Noop) RecordTokenRefresh(provider, outcome string)                       {}
func (n *Noop) RecordAPITest(platform, feature string, statusCode int)            {}
func (n *Noop) RecordAIGeneration(provider string, success bool, d time.Duration) {}
