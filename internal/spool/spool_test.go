package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

type recorder struct {
	mu    sync.Mutex
	tasks []*types.Task
	fail  string
}

func (r *recorder) Submit(task *types.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.Name == r.fail {
		return errors.New("refused")
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Name)
	}
	return out
}

const twoTasks = `
tasks:
  - name: a
    priority: 1
    duration: 1s
  - name: b
    priority: 0
    delay: 5s
`

func TestIsSpoolFile(t *testing.T) {
	assert.True(t, IsSpoolFile("x.yaml"))
	assert.True(t, IsSpoolFile("/in/X.YML"))
	assert.False(t, IsSpoolFile("x.yaml.done"))
	assert.False(t, IsSpoolFile(".x.yaml"))
	assert.False(t, IsSpoolFile("x.json"))
}

func TestIngestSubmitsAndMarksDone(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/batch.yaml", []byte(twoTasks), 0o644))

	rec := &recorder{}
	s := New(fs, "/in", rec, logx.Nop())
	fixed := time.Date(2026, 2, 2, 2, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.Ingest("/in/batch.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, rec.names())
	assert.Equal(t, fixed.Add(5*time.Second), rec.tasks[1].EligibleAt)

	exists, _ := afero.Exists(fs, "/in/batch.yaml")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, "/in/batch.yaml"+DoneSuffix)
	assert.True(t, exists)

	// A second attempt finds nothing.
	n, err = s.Ingest("/in/batch.yaml")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// renameFailFs refuses every rename, as a read-only mount would.
type renameFailFs struct{ afero.Fs }

func (renameFailFs) Rename(string, string) error { return os.ErrPermission }

func TestIngestSubmitsNothingWhenClaimFails(t *testing.T) {
	fs := renameFailFs{afero.NewMemMapFs()}
	require.NoError(t, afero.WriteFile(fs, "/in/batch.yaml", []byte(twoTasks), 0o644))

	rec := &recorder{}
	s := New(fs, "/in", rec, logx.Nop())

	for i := 0; i < 2; i++ {
		n, err := s.Scan()
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrPermission)
		assert.Zero(t, n)
	}
	assert.Empty(t, rec.names(), "a file that cannot be claimed is never submitted")

	exists, _ := afero.Exists(fs, "/in/batch.yaml")
	assert.True(t, exists)
}

func TestIngestBadYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bad.yaml", []byte("tasks: [unclosed"), 0o644))

	s := New(fs, "/in", &recorder{}, logx.Nop())
	_, err := s.Ingest("/in/bad.yaml")
	assert.Error(t, err)

	exists, _ := afero.Exists(fs, "/in/bad.yaml"+FailedSuffix)
	assert.True(t, exists)
}

func TestIngestSkipsInvalidAndRecurring(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := `
tasks:
  - name: ok
  - name: cronish
    cron: "@every 1m"
  - name: negative
    duration: -1s
  - name: refused
`
	require.NoError(t, afero.WriteFile(fs, "/in/mixed.yml", []byte(body), 0o644))

	rec := &recorder{fail: "refused"}
	s := New(fs, "/in", rec, logx.Nop())
	n, err := s.Ingest("/in/mixed.yml")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ok"}, rec.names())
}

func TestScanProcessesPendingFilesInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/02.yaml", []byte("tasks:\n  - name: second\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/01.yaml", []byte("tasks:\n  - name: first\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/old.yaml.done", []byte("tasks:\n  - name: stale\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/notes.txt", []byte("ignore"), 0o644))

	rec := &recorder{}
	s := New(fs, "/in", rec, logx.Nop())
	n, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, rec.names())
}

func TestScanMissingDir(t *testing.T) {
	s := New(afero.NewMemMapFs(), "/nowhere", &recorder{}, logx.Nop())
	_, err := s.Scan()
	assert.Error(t, err)
}

func TestRunWatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.yaml"), []byte("tasks:\n  - name: early\n"), 0o644))

	rec := &recorder{}
	s := New(afero.NewOsFs(), dir, rec, logx.Nop())
	s.settle = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.names()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.yaml"), []byte("tasks:\n  - name: late\n"), 0o644))
	require.Eventually(t, func() bool { return len(rec.names()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, rec.names())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
