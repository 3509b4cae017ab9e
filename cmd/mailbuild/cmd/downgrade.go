package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/zostay/go-mailbuild/message"
)

var (
	downgradeCmd = &cobra.Command{
		Use:   "downgrade [message]",
		Short: "Rewrite a message so it can be sent over a 7-bit transport",
		Long: `Parse a message from the named file, or standard input, rewrite every
8bit or binary part as quoted-printable or base64, and write the result.

A multipart/signed part holding 8-bit content cannot be rewritten without
breaking its signature and is reported as an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: RunDowngrade,
	}

	downgradeDiff bool
)

func init() {
	downgradeCmd.Flags().BoolVar(&downgradeDiff, "diff", false, "show the changes instead of the message")
}

func RunDowngrade(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	before, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("unable to read message: %w", err)
	}

	m, err := message.Parse(bytes.NewReader(before))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Downgrade(); err != nil {
		return err
	}

	after, err := m.Bytes()
	if err != nil {
		return err
	}

	if downgradeDiff {
		return writeDiff(cmd.OutOrStdout(), string(before), string(after))
	}

	_, err = cmd.OutOrStdout().Write(after)
	return err
}

// firstLineRune is the rune standing for the first distinct line in a diff.
// Starting in the private use area keeps every line clear of the surrogate
// range.
const firstLineRune = 0xE000

// lineTable assigns one rune to every distinct line seen in either text.
type lineTable struct {
	lines []string
	index map[string]rune
}

func (lt *lineTable) runes(text string) []rune {
	var rs []rune
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		r, ok := lt.index[line]
		if !ok {
			r = rune(firstLineRune + len(lt.lines))
			lt.lines = append(lt.lines, line)
			lt.index[line] = r
		}
		rs = append(rs, r)
	}
	return rs
}

// writeDiff writes a line diff, marking removed lines with "-", added lines
// with "+", and unchanged lines with a space.
func writeDiff(w io.Writer, before, after string) error {
	lt := &lineTable{index: map[string]rune{}}
	a, b := lt.runes(before), lt.runes(after)

	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMainRunes(a, b, false) {
		mark := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			mark = "+"
		case diffmatchpatch.DiffDelete:
			mark = "-"
		}

		for _, r := range d.Text {
			if _, err := io.WriteString(w, mark+lt.lines[r-firstLineRune]); err != nil {
				return err
			}
		}
	}

	return nil
}
