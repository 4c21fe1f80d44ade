package printer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PromptChooser asks on a terminal which printer to pair with
type PromptChooser struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptChooser(in io.Reader, out io.Writer) *PromptChooser {
	return &PromptChooser{in: bufio.NewReader(in), out: out}
}

// Choose lists devices and reads a 1-based index. An empty answer, "q" or
// end of input cancels.
func (c *PromptChooser) Choose(ctx context.Context, devices []Device) (Device, error) {
	fmt.Fprintln(c.out, "Printers in range:")
	for i, d := range devices {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, d)
	}

	type answer struct {
		line string
		err  error
	}
	for {
		fmt.Fprintf(c.out, "Select printer [1-%d, q to cancel]: ", len(devices))

		ch := make(chan answer, 1)
		go func() {
			line, err := c.in.ReadString('\n')
			ch <- answer{line, err}
		}()

		var a answer
		select {
		case <-ctx.Done():
			return Device{}, ctx.Err()
		case a = <-ch:
		}

		line := strings.TrimSpace(a.line)
		if line == "" || strings.EqualFold(line, "q") {
			return Device{}, ErrUserCancelled
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(devices) {
			return devices[n-1], nil
		}
		if a.err != nil {
			return Device{}, ErrUserCancelled
		}
		fmt.Fprintf(c.out, "%q is not a printer number\n", line)
	}
}
