package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage is the milestone an Event reports.
type Stage string

// Stages emitted by a sync run.
const (
	StageRunStart       Stage = "RUN_START"
	StageProductSynced  Stage = "PRODUCT_SYNCED"
	StageProductFresh   Stage = "PRODUCT_FRESH"
	StageProductInvalid Stage = "PRODUCT_INVALID"
	StageProductError   Stage = "PRODUCT_ERROR"
	StageProductRetired Stage = "PRODUCT_RETIRED"
	StageRunDone        Stage = "RUN_DONE"
)

// Event is one milestone of a sync run.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	// URL is the product page for PRODUCT_* stages.
	URL string
	// Dur is the product or run wall time when known.
	Dur time.Duration
	// Note carries low-volume context such as an error or the run status.
	Note string
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageProductSynced, StageProductFresh, StageProductInvalid, StageProductError, StageProductRetired:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
