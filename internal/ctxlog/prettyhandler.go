// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/TylerBrock/colorjson"
	"golang.org/x/term"
)

// TimeFormat is the format used for timestamps in log messages.
const TimeFormat = "[15:04:05.000]"

// ErrMarshalAttrs is returned when record attributes cannot be marshaled.
var ErrMarshalAttrs = errors.New("error when marshaling attributes")

// ANSI SGR codes used by the pretty handler.
const (
	sgrReset     = "\033[0m"
	sgrWhite     = "\033[37m"
	sgrHiWhite   = "\033[97m"
	sgrCyan      = "\033[36m"
	sgrYellow    = "\033[33m"
	sgrRed       = "\033[31m"
	sgrHiMagenta = "\033[95m"
)

// PrettyHandler is a slog handler that renders human-friendly console output:
// timestamp, colored level, message, then the attributes as colorized JSON.
type PrettyHandler struct {
	inner  slog.Handler
	buf    *bytes.Buffer
	mu     *sync.Mutex
	writer io.Writer
	color  bool
	json   *colorjson.Formatter
}

// NewPrettyHandler creates a PrettyHandler writing to w. Color is enabled
// only when w is the process stdout and stdout is a terminal.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	buf := &bytes.Buffer{}
	color := w == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))

	formatter := colorjson.NewFormatter()
	formatter.Indent = 2
	formatter.DisabledColor = !color

	return &PrettyHandler{
		inner: slog.NewJSONHandler(buf, &slog.HandlerOptions{
			Level:       opts.Level,
			AddSource:   opts.AddSource,
			ReplaceAttr: suppressDefaults(opts.ReplaceAttr),
		}),
		buf:    buf,
		mu:     &sync.Mutex{},
		writer: w,
		color:  color,
		json:   formatter,
	}
}

// Enabled implements slog.Handler.
func (h *PrettyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// WithAttrs implements slog.Handler.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &PrettyHandler{
		inner: h.inner.WithAttrs(attrs), buf: h.buf, mu: h.mu,
		writer: h.writer, color: h.color, json: h.json,
	}
}

// WithGroup implements slog.Handler.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	return &PrettyHandler{
		inner: h.inner.WithGroup(name), buf: h.buf, mu: h.mu,
		writer: h.writer, color: h.color, json: h.json,
	}
}

// Handle implements slog.Handler.
func (h *PrettyHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs, err := h.computeAttrs(ctx, r)
	if err != nil {
		return err
	}

	var attrBytes []byte

	if len(attrs) > 0 {
		attrBytes, err = h.json.Marshal(attrs)
		if err != nil {
			return errors.Join(ErrMarshalAttrs, err)
		}
	}

	out := strings.Builder{}
	out.WriteString(h.colorize(r.Time.Format(TimeFormat), sgrWhite))
	out.WriteString(" ")
	out.WriteString(h.levelString(r.Level))
	out.WriteString(" ")
	out.WriteString(h.colorize(r.Message, sgrHiWhite))

	if len(attrBytes) > 0 {
		out.WriteString(" ")
		out.Write(attrBytes)
	}

	out.WriteString("\n")

	if _, err := io.WriteString(h.writer, out.String()); err != nil {
		return fmt.Errorf("error when writing log output: %w", err)
	}

	return nil
}

// computeAttrs round-trips the record through the inner JSON handler to
// obtain the fully resolved attribute map, including WithAttrs/WithGroup
// state the handler cannot see on the record itself.
func (h *PrettyHandler) computeAttrs(ctx context.Context, r slog.Record) (map[string]any, error) {
	h.mu.Lock()
	defer func() {
		h.buf.Reset()
		h.mu.Unlock()
	}()

	if err := h.inner.Handle(ctx, r); err != nil {
		return nil, errors.Join(ErrMarshalAttrs, err)
	}

	var attrs map[string]any
	if err := json.Unmarshal(h.buf.Bytes(), &attrs); err != nil {
		return nil, errors.Join(ErrMarshalAttrs, err)
	}

	return attrs, nil
}

func (h *PrettyHandler) levelString(level slog.Level) string {
	label := level.String() + ":"

	switch {
	case level <= slog.LevelDebug:
		return h.colorize(label, sgrWhite)
	case level <= slog.LevelInfo:
		return h.colorize(label, sgrCyan)
	case level < slog.LevelError:
		return h.colorize(label, sgrYellow)
	case level <= slog.LevelError+1:
		return h.colorize(label, sgrRed)
	default:
		return h.colorize(label, sgrHiMagenta)
	}
}

func (h *PrettyHandler) colorize(s, code string) string {
	if !h.color {
		return s
	}

	return code + s + sgrReset
}

func suppressDefaults(next func([]string, slog.Attr) slog.Attr) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.MessageKey {
			return slog.Attr{}
		}

		if next == nil {
			return a
		}

		return next(groups, a)
	}
}
