// Package decipher prints recorded traffic in a human readable form.
package decipher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/service/decode"
	"go.uber.org/zap"
)

type Options struct {
	// Updates prints parsed UPDATE events instead of raw lines.
	Updates bool
	NoColor bool
}

type Stats struct {
	Records  int
	Lines    int
	NonASCII int
	Updates  int
}

type Printer struct {
	logger *zap.Logger
	out    io.Writer
	opts   Options

	send    *color.Color
	recv    *color.Color
	opaque  *color.Color
	printer *pp.PrettyPrinter
}

func New(logger *zap.Logger, out io.Writer, opts Options) *Printer {
	p := &Printer{
		logger:  logger,
		out:     out,
		opts:    opts,
		send:    color.New(color.FgCyan, color.Bold),
		recv:    color.New(color.FgYellow, color.Bold),
		opaque:  color.New(color.FgHiBlack),
		printer: pp.New(),
	}
	p.printer.WithLineInfo = false
	if opts.NoColor {
		p.send.DisableColor()
		p.recv.DisableColor()
		p.opaque.DisableColor()
		p.printer.SetColoringEnabled(false)
	} else {
		p.send.EnableColor()
		p.recv.EnableColor()
		p.opaque.EnableColor()
	}
	return p
}

// Run prints a "<prompt> connection <id>" header whenever the stream changes,
// followed by the decoded lines of that stream.
func (p *Printer) Run(ctx context.Context, src decode.RecordSource) (Stats, error) {
	var stats Stats
	dec := decode.New(p.logger)
	var current models.StreamKey
	headed := false

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Records++

		lines := dec.Feed(rec)
		if len(lines) == 0 {
			continue
		}
		if p.opts.Updates {
			if err := p.printUpdates(lines, &stats); err != nil {
				return stats, err
			}
			continue
		}
		if !headed || rec.Key() != current {
			current, headed = rec.Key(), true
			if err := p.header(rec); err != nil {
				return stats, err
			}
		}
		for _, line := range lines {
			stats.Lines++
			if line.NonASCII {
				stats.NonASCII++
				_, err = p.opaque.Fprintln(p.out, line.String())
			} else {
				_, err = fmt.Fprintln(p.out, line.Text)
			}
			if err != nil {
				return stats, err
			}
		}
	}
	dec.Finish()
	return stats, nil
}

func (p *Printer) header(rec models.TrafficRecord) error {
	c := p.send
	if rec.Direction == models.ToClient {
		c = p.recv
	}
	_, err := c.Fprintf(p.out, "%s connection %d\n", rec.Direction.Prompt(), rec.ConnID)
	return err
}

func (p *Printer) printUpdates(lines []models.DecodedLine, stats *Stats) error {
	for _, line := range lines {
		stats.Lines++
		if line.Direction != models.ToService || line.NonASCII || !decode.IsUpdate(line.Text) {
			continue
		}
		ev, err := decode.ParseUpdate(line.Text)
		if err != nil {
			p.logger.Warn("could not parse update", zap.String("line", line.Text), zap.Error(err))
			continue
		}
		stats.Updates++
		if _, err := p.printer.Fprintln(p.out, ev); err != nil {
			return err
		}
	}
	return nil
}
