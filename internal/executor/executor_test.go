package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects appended lines in order
type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Append(ctx context.Context, jobID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// handlerPath resolves a testdata script to an absolute path, since the
// subprocess runs with the job work directory as its cwd.
func handlerPath(t *testing.T, name string) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return abs
}

func TestRun_Success(t *testing.T) {
	workDir := t.TempDir()
	sink := &recordingSink{}

	e := New(Config{
		PythonProgram: "/bin/sh",
		HandlerScript: handlerPath(t, "handler_ok.sh"),
		KeyFile:       "/keys/build.pem",
		SSHUser:       "builder",
	}, sink, testLogger())

	err := e.Run(context.Background(), Spec{
		JobID:       "job-1",
		WorkDir:     workDir,
		TopBase:     "top",
		CheckoutRef: "refs/remotes/origin/master",
		RemoteHost:  "ip-10-0-0-1.internal",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"checking out sources",
		"build started",
		"build finished",
	}, sink.all())

	// Lines also land in out.log inside the work directory.
	data, err := os.ReadFile(filepath.Join(workDir, "out.log"))
	require.NoError(t, err)
	assert.Equal(t, "checking out sources\nbuild started\nbuild finished\n", string(data))

	assert.True(t, ArtifactReady(workDir))
	assert.Equal(t, filepath.Join(workDir, "output", "BOOT.bin"), ArtifactPath(workDir))
}

func TestRun_HandlerArguments(t *testing.T) {
	workDir := t.TempDir()
	sink := &recordingSink{}

	e := New(Config{
		PythonProgram: "/bin/sh",
		HandlerScript: handlerPath(t, "handler_args.sh"),
		KeyFile:       "/keys/build.pem",
		SSHUser:       "builder",
	}, sink, testLogger())

	err := e.Run(context.Background(), Spec{
		JobID:       "job-1",
		WorkDir:     workDir,
		TopBase:     "cpu_top",
		CheckoutRef: "refs/remotes/origin/master",
		RemoteHost:  "ip-10-0-0-1.internal",
	})
	require.NoError(t, err)

	lines := sink.all()
	require.Len(t, lines, 1)
	assert.Equal(t,
		"-i input -o output -n cpu_top -k /keys/build.pem -m builder@ip-10-0-0-1.internal -c refs/remotes/origin/master",
		lines[0],
	)
}

func TestRun_NonZeroExit(t *testing.T) {
	workDir := t.TempDir()
	sink := &recordingSink{}

	e := New(Config{
		PythonProgram: "/bin/sh",
		HandlerScript: handlerPath(t, "handler_fail.sh"),
	}, sink, testLogger())

	err := e.Run(context.Background(), Spec{
		JobID:   "job-1",
		WorkDir: workDir,
		TopBase: "top",
	})
	require.Error(t, err)

	// Both streams were captured before the failure surfaced.
	lines := sink.all()
	assert.Contains(t, lines, "build started")
	assert.Contains(t, lines, "synthesis failed")

	assert.False(t, ArtifactReady(workDir))
}

func TestRun_Timeout(t *testing.T) {
	workDir := t.TempDir()
	sink := &recordingSink{}

	e := New(Config{
		PythonProgram: "/bin/sh",
		HandlerScript: handlerPath(t, "handler_slow.sh"),
		Timeout:       200 * time.Millisecond,
	}, sink, testLogger())

	start := time.Now()
	err := e.Run(context.Background(), Spec{
		JobID:   "job-1",
		WorkDir: workDir,
		TopBase: "top",
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Contains(t, sink.all(), "build started")
}

func TestRun_MissingHandler(t *testing.T) {
	workDir := t.TempDir()
	sink := &recordingSink{}

	e := New(Config{
		PythonProgram: filepath.Join(workDir, "does-not-exist"),
		HandlerScript: "handler.py",
	}, sink, testLogger())

	err := e.Run(context.Background(), Spec{
		JobID:   "job-1",
		WorkDir: workDir,
		TopBase: "top",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to start build handler"))
}

func TestArtifactReady_DirectoryIsNotAnArtifact(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(ArtifactPath(workDir), 0o755))

	assert.False(t, ArtifactReady(workDir))
}
