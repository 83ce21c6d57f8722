package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/leefowlercu/vaultkeeper/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects delivered events.
type recorder struct {
	ch chan events.FileEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan events.FileEvent, 100)}
}

func (r *recorder) callback(_ context.Context, ev events.FileEvent) {
	r.ch <- ev
}

func (r *recorder) next(t *testing.T, timeout time.Duration) events.FileEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for event")
		return events.FileEvent{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Errorf("unexpected event: %s", ev)
	case <-time.After(wait):
	}
}

func startWatcher(t *testing.T, root string, patterns []string, opts ...Option) (*Watcher, *recorder) {
	t.Helper()

	opts = append([]Option{
		WithDebounceWindow(30 * time.Millisecond),
		WithDeleteGracePeriod(60 * time.Millisecond),
	}, opts...)

	w := New(opts...)
	rec := newRecorder()
	w.RegisterCallback(rec.callback)

	if err := w.Start(context.Background(), root, patterns); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stopWatcher(t, w) })

	return w, rec
}

func stopWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_StartRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.md")
	writeFile(t, file, "x")

	w := New()
	if err := w.Start(context.Background(), file, nil); err == nil {
		t.Error("Start(file) error = nil, want error")
	}
	if err := w.Start(context.Background(), filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("Start(missing) error = nil, want error")
	}
	if w.Alive() {
		t.Error("Alive() = true after failed start")
	}
}

func TestWatcher_DoubleStart(t *testing.T) {
	w, _ := startWatcher(t, t.TempDir(), nil)

	err := w.Start(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestWatcher_CreatedEvent(t *testing.T) {
	root := t.TempDir()
	w, rec := startWatcher(t, root, []string{"*.md"})

	path := filepath.Join(root, "note.md")
	writeFile(t, path, "# hello")

	ev := rec.next(t, 2*time.Second)
	if ev.Kind != events.Created {
		t.Errorf("Kind = %v, want %v", ev.Kind, events.Created)
	}
	if ev.Path != path {
		t.Errorf("Path = %s, want %s", ev.Path, path)
	}
	if ev.RelPath != "note.md" {
		t.Errorf("RelPath = %s, want note.md", ev.RelPath)
	}
	rec.none(t, 150*time.Millisecond)

	if !w.Alive() {
		t.Error("Alive() = false, want true")
	}
}

func TestWatcher_CoalescesRapidWrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	writeFile(t, path, "v0")

	_, rec := startWatcher(t, root, nil)

	for i := range 5 {
		writeFile(t, path, "v"+string(rune('1'+i)))
		time.Sleep(5 * time.Millisecond)
	}

	ev := rec.next(t, 2*time.Second)
	if ev.Kind != events.Modified {
		t.Errorf("Kind = %v, want %v", ev.Kind, events.Modified)
	}
	rec.none(t, 200*time.Millisecond)
}

func TestWatcher_DeletedEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	writeFile(t, path, "bye")

	_, rec := startWatcher(t, root, nil)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ev := rec.next(t, 2*time.Second)
	if ev.Kind != events.Deleted {
		t.Errorf("Kind = %v, want %v", ev.Kind, events.Deleted)
	}
}

func TestWatcher_IgnoresFilteredFiles(t *testing.T) {
	root := t.TempDir()
	w, rec := startWatcher(t, root, []string{"*.md"})

	writeFile(t, filepath.Join(root, "image.png"), "x")
	writeFile(t, filepath.Join(root, ".note.md.swp"), "x")
	writeFile(t, filepath.Join(root, "note.md~"), "x")
	rec.none(t, 200*time.Millisecond)

	writeFile(t, filepath.Join(root, "real.md"), "x")
	ev := rec.next(t, 2*time.Second)
	if ev.Name() != "real.md" {
		t.Errorf("Name() = %s, want real.md", ev.Name())
	}

	if w.Stats().EventsExcluded == 0 {
		t.Error("Stats().EventsExcluded = 0, want > 0")
	}
}

func TestWatcher_ExcludedDirsNotWatched(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	w, rec := startWatcher(t, root, nil)

	writeFile(t, filepath.Join(root, ".git", "note.md"), "x")
	rec.none(t, 200*time.Millisecond)

	if got := w.Stats().WatchedDirs; got != 1 {
		t.Errorf("WatchedDirs = %d, want 1", got)
	}
}

func TestWatcher_NewSubdirectoryWatched(t *testing.T) {
	root := t.TempDir()
	w, rec := startWatcher(t, root, []string{"*.md"})

	sub := filepath.Join(root, "daily")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().WatchedDirs < 2 {
		if time.Now().After(deadline) {
			t.Fatal("new subdirectory was never watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(sub, "today.md")
	writeFile(t, path, "x")

	ev := rec.next(t, 2*time.Second)
	if ev.Path != path {
		t.Errorf("Path = %s, want %s", ev.Path, path)
	}
	if ev.RelPath != filepath.Join("daily", "today.md") {
		t.Errorf("RelPath = %s, want daily/today.md", ev.RelPath)
	}
}

func TestWatcher_StopFlushesPendingEvents(t *testing.T) {
	root := t.TempDir()

	w := New(WithDebounceWindow(time.Hour))
	rec := newRecorder()
	w.RegisterCallback(rec.callback)
	if err := w.Start(context.Background(), root, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	writeFile(t, filepath.Join(root, "note.md"), "x")

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().EventsReceived == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no raw events observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopWatcher(t, w)

	select {
	case ev := <-rec.ch:
		if ev.Kind != events.Created {
			t.Errorf("Kind = %v, want %v", ev.Kind, events.Created)
		}
	default:
		t.Error("pending event was not delivered before Stop returned")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New()
	stopWatcher(t, w)

	if err := w.Start(context.Background(), t.TempDir(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopWatcher(t, w)
	stopWatcher(t, w)

	if w.Alive() {
		t.Error("Alive() = true after Stop")
	}
	if w.Stats().Running {
		t.Error("Stats().Running = true after Stop")
	}
}

func TestWatcher_Restart(t *testing.T) {
	w := New(WithDebounceWindow(20 * time.Millisecond))
	rec := newRecorder()
	w.RegisterCallback(rec.callback)

	first := t.TempDir()
	if err := w.Start(context.Background(), first, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopWatcher(t, w)

	second := t.TempDir()
	if err := w.Start(context.Background(), second, nil); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	defer stopWatcher(t, w)

	path := filepath.Join(second, "again.md")
	writeFile(t, path, "x")

	ev := rec.next(t, 2*time.Second)
	if ev.Path != path {
		t.Errorf("Path = %s, want %s", ev.Path, path)
	}
}

func TestWatcher_RootRemovedReportsFailure(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "vault")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}

	w, _ := startWatcher(t, root, nil)
	failures := w.Failures()

	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failures:
		var failure *Failure
		if !errors.As(err, &failure) {
			t.Fatalf("failure = %T, want *Failure", err)
		}
		if failure.Root != root {
			t.Errorf("Failure.Root = %s, want %s", failure.Root, root)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for failure")
	}

	if w.Alive() {
		t.Error("Alive() = true after root removal")
	}
}

func TestWatcher_CallbackPanicDoesNotStopDelivery(t *testing.T) {
	root := t.TempDir()

	w := New(WithDebounceWindow(20 * time.Millisecond))
	var (
		mu    sync.Mutex
		calls int
	)
	w.RegisterCallback(func(context.Context, events.FileEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("boom")
	})
	rec := newRecorder()
	w.RegisterCallback(rec.callback)

	if err := w.Start(context.Background(), root, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stopWatcher(t, w)

	writeFile(t, filepath.Join(root, "a.md"), "x")
	rec.next(t, 2*time.Second)

	writeFile(t, filepath.Join(root, "b.md"), "x")
	rec.next(t, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("panicking callback called %d times, want 2", calls)
	}
}

func TestIsWatchLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"inotify limit", errors.New("user limit on total number of inotify watches reached"), true},
		{"enospc text", errors.New("no space left on device"), true},
		{"other", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWatchLimitError(tt.err); got != tt.want {
				t.Errorf("isWatchLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
