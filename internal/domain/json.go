package domain

import (
	"encoding/json"
	"time"
)

// Durations cross the wire as integer milliseconds.

func (a Answer) MarshalJSON() ([]byte, error) {
	type plain Answer
	return json.Marshal(struct {
		plain
		TimeSpentMS int64 `json:"timeSpentMs"`
	}{plain(a), a.TimeSpent.Milliseconds()})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	type plain Answer
	aux := struct {
		*plain
		TimeSpentMS int64 `json:"timeSpentMs"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.TimeSpent = time.Duration(aux.TimeSpentMS) * time.Millisecond
	return nil
}

func (r QuizResult) MarshalJSON() ([]byte, error) {
	type plain QuizResult
	return json.Marshal(struct {
		plain
		TotalTimeMS int64 `json:"totalTimeMs"`
	}{plain(r), r.TotalTime.Milliseconds()})
}

func (r *QuizResult) UnmarshalJSON(data []byte) error {
	type plain QuizResult
	aux := struct {
		*plain
		TotalTimeMS int64 `json:"totalTimeMs"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.TotalTime = time.Duration(aux.TotalTimeMS) * time.Millisecond
	return nil
}

// DurationsToMillis converts each duration to whole milliseconds.
func DurationsToMillis(ds []time.Duration) []int64 {
	if ds == nil {
		return nil
	}
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = d.Milliseconds()
	}
	return out
}

// MillisToDurations is the inverse of DurationsToMillis.
func MillisToDurations(ms []int64) []time.Duration {
	if ms == nil {
		return nil
	}
	out := make([]time.Duration, len(ms))
	for i, m := range ms {
		out[i] = time.Duration(m) * time.Millisecond
	}
	return out
}
