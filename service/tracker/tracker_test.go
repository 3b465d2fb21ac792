package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequence struct {
	values []int64
	errs   []error
	calls  int
}

func (s *sequence) counter() Counter {
	return &FuncCounter{Label: "allocations", Fn: func(context.Context) (int64, error) {
		i := s.calls
		s.calls++
		if i < len(s.errs) && s.errs[i] != nil {
			return 0, s.errs[i]
		}
		return s.values[i], nil
	}}
}

func TestTracker_Validate(t *testing.T) {
	gone := errors.New("no such file or directory")
	testCases := []struct {
		description string
		values      []int64
		errs        []error
		delta       int64
		tolerance   int64
		expectLeak  bool
		expectRead  bool
	}{
		{description: "equal snapshots", values: []int64{12, 12}},
		{description: "leak", values: []int64{12, 15}, expectLeak: true},
		{description: "within tolerance", values: []int64{12, 13}, tolerance: 1},
		{description: "expected delta", values: []int64{12, 14}, delta: 2},
		{description: "freed too much", values: []int64{12, 10}, expectLeak: true},
		{description: "end unreadable", values: []int64{12, 0}, errs: []error{nil, gone}, expectRead: true},
		{description: "start unreadable", values: []int64{0, 0}, errs: []error{gone}, expectRead: true},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			seq := &sequence{values: tc.values, errs: tc.errs}
			tr := New(seq.counter())
			_ = tr.Start(ctx)
			_ = tr.End(ctx)
			err := tr.Validate(tc.delta, tc.tolerance)
			switch {
			case tc.expectLeak:
				var leak *LeakError
				require.True(t, errors.As(err, &leak), "expected leak, got %v", err)
				assert.Equal(t, tc.values[0], leak.Start)
				assert.Equal(t, tc.values[1], leak.End)
				assert.Contains(t, leak.Error(), "allocations")
				assert.NotErrorIs(t, err, ErrUnreadable)
			case tc.expectRead:
				assert.ErrorIs(t, err, ErrUnreadable)
				var leak *LeakError
				assert.False(t, errors.As(err, &leak))
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestTracker_Order(t *testing.T) {
	tr := New(&FuncCounter{Label: "x", Fn: func(context.Context) (int64, error) { return 1, nil }})
	assert.ErrorIs(t, tr.End(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, tr.Validate(0, 0), ErrNotStarted)
	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Validate(0, 0), ErrNotEnded)
}

func TestTrack(t *testing.T) {
	var live int64
	counter := &FuncCounter{Label: "live", Fn: func(context.Context) (int64, error) { return live, nil }}
	err := Track(context.Background(), counter, 0, func() error {
		live++
		return nil
	})
	var leak *LeakError
	require.True(t, errors.As(err, &leak))
	assert.Equal(t, int64(1), leak.End-leak.Start)

	assert.NoError(t, Track(context.Background(), counter, 0, func() error { return nil }))
}

func TestFileCounter(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "count")
	require.NoError(t, os.WriteFile(plain, []byte("42\n"), 0o644))
	stats := filepath.Join(dir, "stats")
	require.NoError(t, os.WriteFile(stats, []byte("messages: 3\nmailboxes 7\n"), 0o644))

	value, err := (&FileCounter{Path: plain}).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), value)

	value, err = (&FileCounter{Path: stats, Field: "mailboxes"}).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), value)

	value, err = (&FileCounter{Path: stats, Field: "messages"}).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)

	_, err = (&FileCounter{Path: stats, Field: "missing"}).Read(context.Background())
	assert.Error(t, err)

	tr := New(&FileCounter{Path: plain})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, os.Remove(plain))
	assert.ErrorIs(t, tr.End(context.Background()), ErrUnreadable)
	assert.ErrorIs(t, tr.Validate(0, 0), ErrUnreadable)
}

func TestSlabCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slabinfo")
	content := "slabinfo - version: 2.1\n" +
		"# name            <active_objs> <num_objs> <objsize>\n" +
		"mpi_message         17     32    128\n" +
		"kmalloc-64        3012   3200     64\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	value, err := (&SlabCounter{Cache: "mpi_message", Path: path}).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(17), value)

	_, err = (&SlabCounter{Cache: "absent", Path: path}).Read(context.Background())
	assert.Error(t, err)
}
