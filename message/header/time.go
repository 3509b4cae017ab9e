package header

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/araddon/dateparse"
)

// UnixDateWithEarlyYear is a date layout seen in the wild that the usual
// parsers reject.
const UnixDateWithEarlyYear = "Mon Jan 02 15:04:05 2006 MST"

// ParseTime parses a date field body. The RFC 5322 format is tried first,
// followed by the many formats understood by dateparse.
//
// It either returns a parsed time or the parse error.
func ParseTime(body string) (time.Time, error) {
	t, err := mail.ParseDate(body)
	if err == nil {
		return t, nil
	}

	t, err = dateparse.ParseAny(body)
	if err == nil {
		return t, nil
	}

	t, err = time.Parse(UnixDateWithEarlyYear, body)
	if err == nil {
		return t, nil
	}

	return t, fmt.Errorf("time string %q cannot be parsed", body)
}

// GetTime returns the named field parsed as a time.Time.
//
// It will return the zero value and ErrNoSuchField if the field does not
// exist, or the parse error if the body is not a recognizable date.
func (h *Header) GetTime(name string) (time.Time, error) {
	body, err := h.Get(name)
	if err != nil {
		return time.Time{}, err
	}

	return ParseTime(body)
}

// SetTime replaces the named field with the time formatted as RFC 1123 with a
// numeric zone.
func (h *Header) SetTime(name string, body time.Time) {
	h.Set(name, body.Format(time.RFC1123Z))
}

// GetDate returns the Date field as a time.Time.
func (h *Header) GetDate() (time.Time, error) {
	return h.GetTime(Date)
}

// SetDate replaces the Date field.
func (h *Header) SetDate(d time.Time) {
	h.SetTime(Date, d)
}

// SetSentDate replaces the Date field. When hideTimeZone is true the date is
// written in UTC so the sender's zone is not disclosed.
func (h *Header) SetSentDate(d time.Time, hideTimeZone bool) {
	if hideTimeZone {
		d = d.UTC()
	}
	h.SetDate(d)
}
