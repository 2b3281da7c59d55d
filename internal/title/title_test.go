package title

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changes struct {
	mu     sync.Mutex
	titles []string
}

func (c *changes) add(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, t)
}

func (c *changes) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func TestStore_GetDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "title.txt")
	s := NewStore(path, "", testutils.QuietLogger())

	assert.Equal(t, DefaultTitle, s.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err, "missing title file MUST be created")
	assert.Equal(t, DefaultTitle+"\n", string(data))
}

func TestStore_SetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "title.txt")
	s := NewStore(path, "Club Night", testutils.QuietLogger())
	c := &changes{}
	s.OnChange(c.add)

	got, err := s.Set("  Steel Challenge  ")
	require.NoError(t, err)
	assert.Equal(t, "Steel Challenge", got, "title MUST be trimmed")
	assert.Equal(t, "Steel Challenge", s.Get())
	assert.Equal(t, []string{"Steel Challenge"}, c.get())

	_, err = s.Set("   ")
	assert.True(t, device.IsRequestError(err), "empty title MUST be rejected")
	assert.Equal(t, "Steel Challenge", s.Get())
}

func TestStore_EmptyFileUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "title.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))
	s := NewStore(path, "", testutils.QuietLogger())
	assert.Equal(t, DefaultTitle, s.Get())
}

func TestStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "title.txt")
	s := NewStore(path, "", testutils.QuietLogger())
	c := &changes{}
	s.OnChange(c.add)
	s.Get()

	_, changed := s.Reload()
	assert.False(t, changed, "unchanged file MUST NOT notify")

	require.NoError(t, os.WriteFile(path, []byte("IPSC Level I\nsecond line\n"), 0o644))
	got, changed := s.Reload()
	assert.True(t, changed)
	assert.Equal(t, "IPSC Level I", got, "only the first line MUST be used")
	assert.Equal(t, []string{"IPSC Level I"}, c.get())
}

func TestStore_Watch(t *testing.T) {
	// GOAL: Verify external edits to the title file are reported while watching
	//
	// TEST SCENARIO: Start Watch → edit file → callback receives new title → cancel stops Watch

	path := filepath.Join(t.TempDir(), "title.txt")
	s := NewStore(path, "", testutils.QuietLogger())
	c := &changes{}
	s.OnChange(c.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "Watch MUST create the title file")

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("Edited Outside\n"), 0o644)
		titles := c.get()
		return len(titles) > 0 && titles[len(titles)-1] == "Edited Outside"
	}, 2*time.Second, 50*time.Millisecond, "external edit MUST be reported")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch MUST return after cancel")
	}
}
