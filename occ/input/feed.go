package input

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/pingcap/errors"
	"golang.org/x/time/rate"
)

// MaxLineSize bounds the length of one transaction line.
const MaxLineSize = 1 << 20

// SubmitFunc hands one transaction text to the dispatcher.
type SubmitFunc func(ctx context.Context, text string) error

type options struct {
	limiter *rate.Limiter
}

// Option configures Feed.
type Option func(*options)

// WithRate paces submissions to perSecond transactions with bursts of burst. A non-positive rate disables pacing.
func WithRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.limiter = newLimiter(perSecond, burst)
	}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Feed submits every transaction line of r in order and returns how many were submitted. Blank lines and lines
// starting with '#' are skipped. It stops at the first submit or read error, or when ctx is done. A line longer than
// MaxLineSize is a read error naming the line.
func Feed(ctx context.Context, r io.Reader, submit SubmitFunc, opts ...Option) (int, error) {
	o := options{limiter: newLimiter(0, 0)}
	for _, opt := range opts {
		opt(&o)
	}

	n, lineNo := 0, 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), MaxLineSize)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return n, errors.Trace(err)
		}
		if err := submit(ctx, line); err != nil {
			return n, errors.Annotatef(err, "line %d", lineNo)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		// The scanner stops on the line after the last one it returned.
		return n, errors.Annotatef(err, "line %d", lineNo+1)
	}
	return n, nil
}

// FeedFile is Feed over the named file.
func FeedFile(ctx context.Context, path string, submit SubmitFunc, opts ...Option) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer f.Close()
	return Feed(ctx, f, submit, opts...)
}
