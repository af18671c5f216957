// Package logging configures the process-wide standard logger.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Prefix     string
	File       string // empty logs to stderr only
	MaxSizeMB  int
	MaxBackups int
}

// Setup points the standard logger at stderr and, when File is set, at a
// rotating file as well. The returned closer flushes the file.
func Setup(opts Options) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if opts.Prefix != "" {
		log.SetPrefix(opts.Prefix + " ")
	}
	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
