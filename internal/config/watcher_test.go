package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `
server:
  listen: "127.0.0.1:8080"
plans:
  - id: gold
    api: orders
    policies: ["rate-limit"]
    rate_limit_rpm: %d
%s
keys:
  - key: %s
    plan: gold
`

const silverPlan = `  - id: silver
    api: orders`

func renderConfig(rpm int, extraPlan, key string) string {
	return fmt.Sprintf(watchedConfig, rpm, extraPlan, key)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type watchFixture struct {
	runtime *Runtime
	watcher *Watcher
	results chan error
	path    string
}

// startWatcher loads the initial file into a Runtime and watches it.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption) *watchFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plangate.yaml")
	writeFile(t, path, initial)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	f := &watchFixture{runtime: NewRuntime(cfg), results: make(chan error, 16), path: path}
	opts = append([]WatcherOption{
		WithDebounceDelay(20 * time.Millisecond),
		WithReloadHook(func(err error) { f.results <- err }),
	}, opts...)

	f.watcher, err = NewWatcher(path, f.runtime, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.watcher.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = f.watcher.Close()
	})

	// Let fsnotify register the directory before the first write.
	time.Sleep(50 * time.Millisecond)
	return f
}

func (f *watchFixture) next(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.results:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within timeout")
		return nil
	}
}

func (f *watchFixture) quiet(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case err := <-f.results:
		t.Fatalf("unexpected reload: %v", err)
	case <-time.After(wait):
	}
}

func TestWatcherReloadsPlansAndKeys(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"))

	writeFile(t, f.path, renderConfig(60, silverPlan, "key-2"))
	require.NoError(t, f.next(t))

	cfg := f.runtime.Get()
	assert.Equal(t, uint64(1), f.runtime.Generation())
	assert.True(t, cfg.FindPlan("silver").IsPresent())
	require.Len(t, cfg.Keys, 1)
	assert.Equal(t, "key-2", cfg.Keys[0].Key)
}

func TestWatcherHandsListenersPreviousConfig(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"))

	type swap struct{ prevKey, nextKey string }
	swaps := make(chan swap, 1)
	f.runtime.OnReload(func(prev, next *Config) {
		swaps <- swap{prev.Keys[0].Key, next.Keys[0].Key}
	})

	writeFile(t, f.path, renderConfig(60, "", "key-rotated"))
	require.NoError(t, f.next(t))
	assert.Equal(t, swap{"key-1", "key-rotated"}, <-swaps)
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"))
	before := f.runtime.Get()

	// Key bound to a plan the file does not define.
	orphan := renderConfig(60, "", "key-2") + "  - key: key-3\n    plan: platinum\n"
	writeFile(t, f.path, orphan)
	err := f.next(t)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), `unknown plan "platinum"`)

	writeFile(t, f.path, "plans: [:::")
	require.Error(t, f.next(t))

	assert.Same(t, before, f.runtime.Get())
	assert.Zero(t, f.runtime.Generation())

	// Restoring a valid file applies it.
	writeFile(t, f.path, renderConfig(30, "", "key-1"))
	require.NoError(t, f.next(t))
	assert.Equal(t, 30, f.runtime.Get().RateLimitFor("gold"))
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	initial := renderConfig(60, "", "key-1")
	f := startWatcher(t, initial)

	writeFile(t, f.path, initial)
	f.quiet(t, 200*time.Millisecond)
	assert.Zero(t, f.runtime.Generation())

	writeFile(t, f.path, renderConfig(90, "", "key-1"))
	require.NoError(t, f.next(t))
	assert.Equal(t, uint64(1), f.runtime.Generation())
}

func TestWatcherDebouncesBursts(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"), WithDebounceDelay(200*time.Millisecond))

	for rpm := 1; rpm <= 5; rpm++ {
		writeFile(t, f.path, renderConfig(rpm, "", "key-1"))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return f.runtime.Get().RateLimitFor("gold") == 5
	}, 3*time.Second, 20*time.Millisecond)
	assert.LessOrEqual(t, f.runtime.Generation(), uint64(2))
}

func TestWatcherFollowsAtomicRename(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"))

	tmp := filepath.Join(filepath.Dir(f.path), ".plangate.yaml.tmp")
	writeFile(t, tmp, renderConfig(60, silverPlan, "key-1"))
	require.NoError(t, os.Rename(tmp, f.path))

	require.NoError(t, f.next(t))
	assert.True(t, f.runtime.Get().FindPlan("silver").IsPresent())
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	f := startWatcher(t, renderConfig(60, "", "key-1"))

	writeFile(t, filepath.Join(filepath.Dir(f.path), "other.yaml"), renderConfig(1, silverPlan, "x"))
	f.quiet(t, 200*time.Millisecond)
	assert.Zero(t, f.runtime.Generation())
}

func TestWatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plangate.yaml")
	writeFile(t, path, renderConfig(60, "", "key-1"))
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, NewRuntime(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatcherClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plangate.yaml")
	writeFile(t, path, renderConfig(60, "", "key-1"))
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, NewRuntime(cfg))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
	assert.ErrorIs(t, w.Watch(context.Background()), ErrWatcherClosed)
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt := NewRuntime(&Config{})

	w, err := NewWatcher(filepath.Join(dir, ".", "plangate.toml"), rt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.True(t, filepath.IsAbs(w.Path()))
	assert.Equal(t, FormatTOML, w.format)

	_, err = NewWatcher(filepath.Join(dir, "plangate.json"), rt)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewWatcher("/nonexistent/dir/plangate.yaml", rt)
	require.Error(t, err)
}
