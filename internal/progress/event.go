// Package progress defines the telemetry events emitted while a search runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSearchStart   Stage = "SEARCH_START"
	StageSearchDone    Stage = "SEARCH_DONE"
	StageSearchStopped Stage = "SEARCH_STOPPED"
	StageSearchError   Stage = "SEARCH_ERROR"
	StagePageDone      Stage = "PAGE_DONE"
	StageTermDone      Stage = "TERM_DONE"
)

// PageOutcome classifies a single page attempt.
type PageOutcome string

// Page attempt outcomes.
const (
	PageOK         PageOutcome = "ok"
	PageFetchError PageOutcome = "fetch_error"
	PageParseError PageOutcome = "parse_error"
)

// Event captures one step of search progress.
type Event struct {
	// SearchID is the 16-byte form of the search UUID.
	SearchID [16]byte
	Owner    string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Term and Page scope page and term events.
	Term string
	Page int
	// Outcome is set on page events.
	Outcome PageOutcome
	// Path is the extraction strategy that produced the page ("fast"/"robust").
	Path     string
	Products int
	Stores   int
	Dur      time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SearchID == [16]byte{} {
		return errors.New("search id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSearchStart, StageSearchDone, StageSearchStopped, StageSearchError:
	case StagePageDone:
		if e.Term == "" || e.Page <= 0 {
			return errors.New("page event requires term and page")
		}
		if e.Outcome == "" {
			return errors.New("page event requires outcome")
		}
	case StageTermDone:
		if e.Term == "" {
			return errors.New("term event requires term")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SearchUUID converts the binary id to uuid.UUID for repositories.
func (e Event) SearchUUID() uuid.UUID {
	return uuid.UUID(e.SearchID)
}

// ParseSearchID converts a textual search id into the Event form. Unparseable
// ids yield the zero value, which Validate rejects.
func ParseSearchID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(parsed)
}
