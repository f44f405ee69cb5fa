package signals

import "context"

// #region status

// Status classifies a fetched signal.
type Status string

const (
	StatusNewData Status = "new_data"
	StatusNoData  Status = "no_data"
	StatusError   Status = "error"
)

// #endregion status

// #region signal

// Signal is one observation from the perception source.
// News is set only when Status is StatusNewData.
type Signal struct {
	Status Status `json:"status"`
	News   string `json:"news,omitempty"`
}

// Actionable reports whether the signal carries news worth acting on.
func (s Signal) Actionable() bool {
	return s.Status == StatusNewData && s.News != ""
}

// #endregion signal

// #region source-interface

// Source fetches the latest signal. Transport faults are reported as a
// Signal with StatusError, never as a returned error, unless ctx is done.
type Source interface {
	Fetch(ctx context.Context) (Signal, error)
}

// #endregion source-interface

// #region disabled

// Disabled is a Source that never has data.
type Disabled struct{}

func (Disabled) Fetch(ctx context.Context) (Signal, error) {
	return Signal{Status: StatusNoData}, nil
}

// #endregion disabled
