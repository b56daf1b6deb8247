package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// promptConfirm returns a confirm callback that asks question on out and
// reads a yes/no answer from in. Anything but y or yes, including EOF,
// counts as no.
func promptConfirm(in io.Reader, out io.Writer, question string) func() bool {
	return func() bool {
		fmt.Fprintf(out, "%s [y/N]: ", question)
		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && answer == "" {
			fmt.Fprintln(out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
