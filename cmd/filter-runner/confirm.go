package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/logging"
)

// newStdinConfirmer asks on out and reads y/N answers from in. Anything but
// "y" or "yes" declines. A read error other than end of input is logged and
// declines as well.
func newStdinConfirmer(in io.Reader, out io.Writer, log hclog.Logger) confirm.Confirmer {
	reader := bufio.NewReader(in)
	log = logging.OrNull(log)
	return confirm.Func(func(p confirm.Prompt) bool {
		fmt.Fprintln(out, p.Message)
		for _, d := range p.Details {
			fmt.Fprintf(out, "  %s\n", d)
		}
		fmt.Fprint(out, "Continue? [y/N] ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error("reading confirmation", "kind", p.Kind, "error", err)
			fmt.Fprintf(out, "\nreading answer: %v\n", err)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	})
}
