package models

import "time"

// ProcType names a kind of load job. The catalog is seeded into the proctypes
// table; jobs reference it by name.
type ProcType string

const (
	ProcLoadSymbols   ProcType = "load_symbols"
	ProcLoadOverviews ProcType = "load_overviews"
	ProcLoadIntraday  ProcType = "load_intraday"
	ProcLoadSummary   ProcType = "load_summary"
	ProcLoadTops      ProcType = "load_tops"
	ProcLoadNews      ProcType = "load_news"

	ProcLoadCryptoIntraday ProcType = "load_crypto_intraday"
)

// ProcTypes lists the static job catalog in seed order.
var ProcTypes = []ProcType{
	ProcLoadSymbols,
	ProcLoadOverviews,
	ProcLoadIntraday,
	ProcLoadSummary,
	ProcLoadTops,
	ProcLoadNews,
	ProcLoadCryptoIntraday,
}

// Valid reports whether p is part of the catalog.
func (p ProcType) Valid() bool {
	for _, t := range ProcTypes {
		if t == p {
			return true
		}
	}
	return false
}

// JobState is the terminal state of a job. A running job has no state yet.
type JobState int

const (
	StateRunning JobState = 1
	StateSuccess JobState = 2
	StateFailed  JobState = 3
)

func (s JobState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ProcState is one execution of a load job. EndState is StateRunning and
// EndTime is zero until the job is closed.
type ProcState struct {
	Spid      int64     `json:"spid" yaml:"spid"`
	ProcType  ProcType  `json:"proc_type" yaml:"proc_type"`
	Token     string    `json:"token" yaml:"token"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndState  JobState  `json:"end_state" yaml:"end_state"`
	EndTime   time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Inserted  int       `json:"inserted" yaml:"inserted"`
	Updated   int       `json:"updated" yaml:"updated"`
	Skipped   int       `json:"skipped" yaml:"skipped"`
	Failed    int       `json:"failed" yaml:"failed"`
}

// Active reports whether the job has not been closed yet.
func (p ProcState) Active() bool {
	return p.EndState == StateRunning
}

func (s JobState) MarshalYAML() (any, error) {
	return s.String(), nil
}
