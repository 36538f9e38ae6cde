// Package client implements the imgup command line uploader.
package client

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultServer    = "http://localhost:8080"
	defaultBatchSize = 10
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// Options is the parsed command line.
type Options struct {
	Server    string
	BatchSize int
	Paths     []ParsedPath

	// DeleteID and DeleteToken select delete mode instead of upload.
	DeleteID    string
	DeleteToken string
}

// ParseArgs parses flags and checks that every positional argument exists.
// IMGUP_SERVER overrides the default server when -server is not given.
func ParseArgs(args []string, stderr io.Writer) (*Options, error) {
	fs := flag.NewFlagSet("imgup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: imgup [-server url] [-batch n] <file|dir>...")
		fmt.Fprintln(fs.Output(), "       imgup [-server url] -delete id -token token")
		fs.PrintDefaults()
	}

	server := defaultServer
	if env := os.Getenv("IMGUP_SERVER"); env != "" {
		server = env
	}
	opts := &Options{}
	fs.StringVar(&opts.Server, "server", server, "image host base URL")
	fs.IntVar(&opts.BatchSize, "batch", defaultBatchSize, "files per upload request")
	fs.StringVar(&opts.DeleteID, "delete", "", "id of an image to delete")
	fs.StringVar(&opts.DeleteToken, "token", "", "delete token returned at upload")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	u, err := url.Parse(opts.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Arg: opts.Server, Cause: "server must be an http(s) URL"}
	}
	opts.Server = strings.TrimRight(opts.Server, "/")

	if opts.BatchSize <= 0 {
		return nil, &ValidationError{Arg: fmt.Sprint(opts.BatchSize), Cause: "batch size must be positive"}
	}

	if opts.DeleteID != "" {
		if opts.DeleteToken == "" {
			return nil, &ValidationError{Arg: "-token", Cause: "delete token is required"}
		}
		if fs.NArg() > 0 {
			return nil, &ValidationError{Arg: fs.Arg(0), Cause: "files cannot be combined with -delete"}
		}
		return opts, nil
	}

	paths, err := parsePaths(fs.Args())
	if err != nil {
		return nil, err
	}
	opts.Paths = paths
	return opts, nil
}

func parsePaths(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []ParsedPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		if info.IsDir() {
			kind = PathDir
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}

// IsHelp reports whether err came from -h or -help.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
