package gitlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rohankatakam/gitpulse/internal/errors"
)

// LogFormat is the --format argument every source must reproduce
const LogFormat = "%x1e%H%x1f%P%x1f%an%x1f%ae%x1f%cn%x1f%ce%x1f%aI%x1f%cI%x1f%s%x1f%b%x1f"

// Source opens a commit log stream in the Reader's format
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Describe() string
}

// Query selects the commits a source emits
type Query struct {
	Range    string   // revision range, e.g. "v1.0..HEAD"; empty means HEAD
	Since    string   // passed to --since
	Until    string   // passed to --until
	MaxCount int      // 0 means no limit
	Paths    []string // restrict to these paths
}

// GitCommand runs `git log` as a subprocess
type GitCommand struct {
	Binary   string // defaults to "git"
	RepoPath string
	Query    Query
}

// Args returns the git arguments, without the binary
func (g *GitCommand) Args() []string {
	args := []string{
		"log", "--no-color", "--no-ext-diff", "--no-abbrev",
		"-M", "-C", "--raw", "--numstat",
		"--format=" + LogFormat,
	}
	if g.Query.Since != "" {
		args = append(args, "--since="+g.Query.Since)
	}
	if g.Query.Until != "" {
		args = append(args, "--until="+g.Query.Until)
	}
	if g.Query.MaxCount > 0 {
		args = append(args, "--max-count="+strconv.Itoa(g.Query.MaxCount))
	}
	if g.Query.Range != "" {
		args = append(args, g.Query.Range)
	}
	if len(g.Query.Paths) > 0 {
		args = append(args, "--")
		args = append(args, g.Query.Paths...)
	}
	return args
}

// Describe implements Source
func (g *GitCommand) Describe() string {
	return fmt.Sprintf("git %s (in %s)", strings.Join(g.Args(), " "), g.RepoPath)
}

// Open starts git and returns its stdout. A non-zero exit surfaces as a
// SourceReadFailure from Read once stdout is drained.
func (g *GitCommand) Open(ctx context.Context) (io.ReadCloser, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, g.Args()...)
	cmd.Dir = g.RepoPath

	stderr := &limitedBuffer{limit: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.SourceReadError(err, "creating git stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.SourceReadError(err, "starting "+bin)
	}

	return &commandReader{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// commandReader turns the subprocess exit status into a read error at EOF
type commandReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer

	once    sync.Once
	waitErr error
}

func (c *commandReader) Read(p []byte) (int, error) {
	n, err := c.stdout.Read(p)
	if err == io.EOF {
		if werr := c.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (c *commandReader) wait() error {
	c.once.Do(func() {
		if err := c.cmd.Wait(); err != nil {
			msg := "git log failed"
			if s := strings.TrimSpace(c.stderr.String()); s != "" {
				msg += ": " + s
			}
			c.waitErr = errors.SourceReadError(err, msg)
		}
	})
	return c.waitErr
}

// Close stops the subprocess if it is still running
func (c *commandReader) Close() error {
	c.stdout.Close()
	if c.cmd.ProcessState == nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.wait()
	return nil
}

// limitedBuffer keeps the first limit bytes of stderr
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// FileSource reads a pre-captured log. Path "-" reads Stdin (os.Stdin when nil).
type FileSource struct {
	Path  string
	Stdin io.Reader
}

// Describe implements Source
func (f *FileSource) Describe() string {
	if f.Path == "-" {
		return "stdin"
	}
	return "file " + f.Path
}

// Open implements Source
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.Path == "-" {
		in := f.Stdin
		if in == nil {
			in = os.Stdin
		}
		return io.NopCloser(in), nil
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "opening log file %s", f.Path)
	}
	return file, nil
}

// ReaderSource serves an in-memory log, used by tests and the MCP server.
type ReaderSource struct {
	Name string
	Data []byte
}

// Describe implements Source
func (r *ReaderSource) Describe() string {
	return r.Name
}

// Open implements Source
func (r *ReaderSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.Data)), nil
}
