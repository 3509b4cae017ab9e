// Package scanner helps writing bufio.SplitFunc state machines.
package scanner

import (
	"bufio"
	"errors"
)

// ErrContinue may be returned by a split function wrapped with ExitByAdvance
// to have it called again straight away with the remaining data, even when
// it would otherwise return to the scanner.
var ErrContinue = errors.New("split func continue")

// ExitByAdvance wraps split so the scanner only regains control when a token
// is produced, no progress is made, the data is used up, or an error occurs.
//
// A plain bufio.SplitFunc that consumes input without producing a token must
// loop internally, since at EOF a nil token ends the scan. The wrapper runs
// that loop instead, adding up every advance so the scanner moves by the
// right amount.
func ExitByAdvance(split bufio.SplitFunc) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		total := 0
		for {
			advance, token, err := split(data, atEOF)

			done := token != nil || advance == 0 || len(data)-advance <= 0 || err != nil
			if !errors.Is(err, ErrContinue) && done {
				return total + advance, token, err
			}

			data = data[advance:]
			total += advance
		}
	}
}
