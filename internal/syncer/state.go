package syncer

// State is the sync state of one title.
//
//	clean -> dirty        local edit
//	dirty -> saving       save started
//	saving -> clean       upload succeeded
//	saving -> save_failed upload failed; the next edit or autosave retries
type State string

const (
	StateClean      State = "clean"
	StateDirty      State = "dirty"
	StateSaving     State = "saving"
	StateSaveFailed State = "save_failed"
)
