// Package diskwork implements the disk-work channel (spec.md §4.6): a
// single background goroutine serialises every local filesystem
// mutation a worker needs (create dir, create/resume/overwrite a
// target file, open a source file for reading, delete a directory) so
// workers never touch the filesystem directly or block each other on
// it.
//
// Grounded on the teacher's worker-pool idiom (errgroup-style fan-in
// over a buffered channel) generalised from a byte-transfer queue to a
// typed request/response channel pair.
package diskwork

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/taskscape/ftp-engine/ftperrors"
	"github.com/taskscape/ftp-engine/queue"
)

// Verdict is the state outcome a request resolves to.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictSkip
	VerdictFailed
	VerdictUserInputNeeded
)

// RequestKind selects which disk operation a Request performs.
type RequestKind int

const (
	KindCreateDir RequestKind = iota
	KindCreateFile
	KindRetryCreated
	KindRetryResumed
	KindOpenForReading
	KindDeleteDir
)

// Request is one unit of disk work, tagged with the originating
// worker's completion code so the response can be routed back.
type Request struct {
	Kind           RequestKind
	LocalDir       string
	LocalName      string
	Force          queue.ForceAction
	OverwritePolicy OverwritePolicy
	CompletionTag  any
}

// OverwritePolicy governs how CreateFile resolves a name collision.
type OverwritePolicy int

const (
	PolicyFailOnExist OverwritePolicy = iota
	PolicyOverwrite
	PolicyResume
	PolicyAutorename
)

// Response is posted back to the requesting worker exactly once per
// Request (spec.md §4.6 "at-most-once completion").
type Response struct {
	Verdict            Verdict
	Problem            ftperrors.Kind
	File               *os.File
	Size               int64
	NewTargetName      string
	Overwrote          bool
	CanDeleteEmptyFile bool
	CompletionTag      any
	Err                error
}

// Channel is the disk-work request/response queue. Zero value is not
// usable; construct with New.
type Channel struct {
	requests  chan Request
	responses chan Response
	done      chan struct{}
}

// New starts the background worker goroutine and returns a Channel
// with the given request buffer depth.
func New(buffer int) *Channel {
	c := &Channel{
		requests:  make(chan Request, buffer),
		responses: make(chan Response, buffer),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Submit enqueues req for processing. Blocks if the request buffer is
// full.
func (c *Channel) Submit(req Request) {
	c.requests <- req
}

// Responses returns the channel workers should range over to receive
// completions.
func (c *Channel) Responses() <-chan Response {
	return c.responses
}

// Close stops accepting new requests and waits for the worker to
// drain. Safe to call once.
func (c *Channel) Close() {
	close(c.requests)
	<-c.done
}

func (c *Channel) run() {
	defer close(c.done)
	defer close(c.responses)
	for req := range c.requests {
		c.responses <- c.process(req)
	}
}

func (c *Channel) process(req Request) Response {
	switch req.Kind {
	case KindCreateDir:
		return c.createDir(req)
	case KindCreateFile, KindRetryCreated, KindRetryResumed:
		return c.createFile(req)
	case KindOpenForReading:
		return c.openForReading(req)
	case KindDeleteDir:
		return c.deleteDir(req)
	default:
		return Response{Verdict: VerdictFailed, Problem: ftperrors.KindCannotCreateTargetDir, CompletionTag: req.CompletionTag}
	}
}

func (c *Channel) createDir(req Request) Response {
	target := filepath.Join(req.LocalDir, req.LocalName)
	resp := Response{CompletionTag: req.CompletionTag}

	if st, err := os.Stat(target); err == nil {
		if !st.IsDir() {
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetDir
			resp.Err = fmt.Errorf("diskwork: %s exists and is not a directory", target)
			return resp
		}
		switch req.Force {
		case queue.ForceOverwrite, queue.ForceResume:
			resp.Verdict = VerdictOK
			return resp
		case queue.ForceAutorename:
			name, err := autorenameDir(req.LocalDir, req.LocalName)
			if err != nil {
				resp.Verdict = VerdictFailed
				resp.Problem = ftperrors.KindCannotCreateTargetDir
				resp.Err = err
				return resp
			}
			if err := os.Mkdir(filepath.Join(req.LocalDir, name), 0o755); err != nil {
				resp.Verdict = VerdictFailed
				resp.Problem = ftperrors.KindCannotCreateTargetDir
				resp.Err = err
				return resp
			}
			resp.Verdict = VerdictOK
			resp.NewTargetName = name
			return resp
		case queue.ForceSkip:
			resp.Verdict = VerdictSkip
			return resp
		default:
			resp.Verdict = VerdictUserInputNeeded
			resp.Problem = ftperrors.KindCannotCreateTargetDir
			return resp
		}
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		resp.Verdict = VerdictFailed
		resp.Problem = ftperrors.KindCannotCreateTargetDir
		resp.Err = err
		return resp
	}
	resp.Verdict = VerdictOK
	return resp
}

func autorenameDir(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for i := 2; i < 10000; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("diskwork: exhausted autorename candidates for %s", name)
}

func (c *Channel) createFile(req Request) Response {
	target := filepath.Join(req.LocalDir, req.LocalName)
	resp := Response{CompletionTag: req.CompletionTag}

	st, statErr := os.Stat(target)
	exists := statErr == nil

	policy := req.OverwritePolicy
	switch req.Force {
	case queue.ForceOverwrite:
		policy = PolicyOverwrite
	case queue.ForceResume:
		policy = PolicyResume
	case queue.ForceAutorename:
		policy = PolicyAutorename
	case queue.ForceSkip:
		resp.Verdict = VerdictSkip
		return resp
	}

	if exists && policy == PolicyFailOnExist {
		resp.Verdict = VerdictUserInputNeeded
		resp.Problem = ftperrors.KindCannotCreateTargetFile
		return resp
	}

	switch {
	case !exists, policy == PolicyOverwrite:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetFile
			resp.Err = err
			return resp
		}
		resp.Verdict = VerdictOK
		resp.File = f
		resp.Overwrote = exists
		resp.CanDeleteEmptyFile = true
		return resp

	case policy == PolicyResume:
		f, err := os.OpenFile(target, os.O_WRONLY, 0o644)
		if err != nil {
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetFile
			resp.Err = err
			return resp
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetFile
			resp.Err = err
			return resp
		}
		resp.Verdict = VerdictOK
		resp.File = f
		resp.Size = st.Size()
		return resp

	case policy == PolicyAutorename:
		name, err := autorenameDir(req.LocalDir, req.LocalName)
		if err != nil {
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetFile
			resp.Err = err
			return resp
		}
		f, err := os.OpenFile(filepath.Join(req.LocalDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			resp.Verdict = VerdictFailed
			resp.Problem = ftperrors.KindCannotCreateTargetFile
			resp.Err = err
			return resp
		}
		resp.Verdict = VerdictOK
		resp.File = f
		resp.NewTargetName = name
		resp.CanDeleteEmptyFile = true
		return resp

	default:
		resp.Verdict = VerdictUserInputNeeded
		resp.Problem = ftperrors.KindCannotCreateTargetFile
		return resp
	}
}

func (c *Channel) openForReading(req Request) Response {
	target := filepath.Join(req.LocalDir, req.LocalName)
	resp := Response{CompletionTag: req.CompletionTag}
	f, err := os.Open(target)
	if err != nil {
		resp.Verdict = VerdictFailed
		resp.Problem = ftperrors.KindCannotCreateTargetFile
		resp.Err = err
		return resp
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		resp.Verdict = VerdictFailed
		resp.Problem = ftperrors.KindCannotCreateTargetFile
		resp.Err = err
		return resp
	}
	resp.Verdict = VerdictOK
	resp.File = f
	resp.Size = st.Size()
	return resp
}

func (c *Channel) deleteDir(req Request) Response {
	target := filepath.Join(req.LocalDir, req.LocalName)
	resp := Response{CompletionTag: req.CompletionTag}
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			resp.Verdict = VerdictOK
			return resp
		}
		resp.Verdict = VerdictFailed
		resp.Problem = ftperrors.KindDirNotEmpty
		resp.Err = err
		return resp
	}
	resp.Verdict = VerdictOK
	return resp
}
