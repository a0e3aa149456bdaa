package bot

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInvalidArguments = errors.New("invalid argument")
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
func (d *Duration) UnmarshalText(text []byte) error {
	td, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(ErrInvalidArguments, "duration %q", text)
	}
	d.Duration = td
	return nil
}

// Expired reports whether something dated t is older than ttl at now.
// A zero ttl never expires.
func Expired(t time.Time, ttl Duration, now time.Time) bool {
	if ttl.Duration <= 0 {
		return false
	}
	return now.After(t.Add(ttl.Duration))
}
