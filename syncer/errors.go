package syncer

import "fmt"

// Stage names the step of a sync that failed
type Stage string

const (
	StageCheck Stage = "check"
	StageFetch Stage = "fetch"
	StageStore Stage = "store"
)

// SyncError reports which stage of a symbol's sync failed. It unwraps to the
// underlying error so callers can match the models sentinels with errors.Is.
type SyncError struct {
	Symbol string
	Stage  Stage
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Symbol, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
