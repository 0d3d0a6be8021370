package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart           Stage = "JOB_START"
	StageJobCancelRequested Stage = "JOB_CANCEL_REQUESTED"
	StageJobKilled          Stage = "JOB_KILLED"
	StageJobDone            Stage = "JOB_DONE"
	StageArtifactRetry      Stage = "ARTIFACT_RETRY"
	StageArtifactDelivered  Stage = "ARTIFACT_DELIVERED"
	StageArtifactFailed     Stage = "ARTIFACT_FAILED"
)

// Event captures one lifecycle milestone of a job.
type Event struct {
	// JobID identifies the job.
	JobID string
	// Owner is the requester the job reports to.
	Owner string
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Status is the job status after the milestone, e.g. "timed_out".
	Status string
	// Note carries low-volume context: a cancel cause, an error, a file name.
	Note string
	// Dur is the job runtime for JOB_DONE and the attempt latency for artifacts.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobCancelRequested, StageJobKilled:
	case StageJobDone:
		if e.Status == "" {
			return errors.New("job done requires status")
		}
	case StageArtifactRetry, StageArtifactDelivered, StageArtifactFailed:
		if e.Note == "" {
			return errors.New("artifact events require the file name in note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone
}
