package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lexi.report/internal/fsutil"
	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	buf := testutil.Concat(
		testutil.HKFrame(10, 3, 2000, 4, 0, 0),
		testutil.ScienceFrame(1010, false, [4]uint16{36000, 36000, 37000, 35000}),
		testutil.Slip(3),
		testutil.ScienceFrame(2020, false, [4]uint16{0, 0, 0, 0}),
	)
	path := filepath.Join(dir, "run.bin")
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

func TestRun_StoresResult(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		In:       writeCapture(t, dir),
		DB:       filepath.Join(dir, "out.db"),
		Workers:  2,
		MaxBytes: 1 << 20,
	}

	var out bytes.Buffer
	store, err := run(context.Background(), opts, &out)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	text := out.String()
	assert.Contains(t, text, "run.bin: 51 B, 3 frames (2 science, 1 housekeeping)")
	assert.Contains(t, text, "1 resyncs")
	assert.Contains(t, text, "1 valid of 2")
	assert.Contains(t, text, "rejected below_threshold: 1")
	assert.Contains(t, text, "positions in cm")

	captures, err := store.Captures()
	require.NoError(t, err)
	require.Len(t, captures, 1)
	assert.Equal(t, "run.bin", captures[0].Source)
	assert.Equal(t, 1, captures[0].ValidEvents)
	assert.True(t, strings.HasSuffix(out.String(), "in "+opts.DB+"\n"))
}

func TestRun_NoDatabase(t *testing.T) {
	dir := t.TempDir()
	store, err := run(context.Background(), options{In: writeCapture(t, dir), MaxBytes: 1 << 20}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	capturePath := writeCapture(t, dir)
	badConfig := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badConfig, []byte(`{"low_threshold": 5}`), 0644))

	tests := []struct {
		name string
		opts options
	}{
		{"missing capture", options{In: filepath.Join(dir, "missing.bin"), MaxBytes: 1 << 20}},
		{"too large", options{In: capturePath, MaxBytes: 16}},
		{"bad config", options{In: capturePath, Config: badConfig, MaxBytes: 1 << 20}},
		{"not a pcap", options{In: capturePath, PCAP: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(context.Background(), tt.opts, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestRun_PCAPSizeCap(t *testing.T) {
	dir := t.TempDir()
	capturePath := writeCapture(t, dir)

	_, err := run(context.Background(), options{In: capturePath, PCAP: true, MaxBytes: 16}, &bytes.Buffer{})
	assert.ErrorIs(t, err, fsutil.ErrTooLarge)

	_, err = run(context.Background(), options{In: capturePath, MaxBytes: 16}, &bytes.Buffer{})
	assert.ErrorIs(t, err, fsutil.ErrTooLarge)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "lexi.db", *dbPath)
	assert.Equal(t, 0, *workers)
	assert.Equal(t, "", *listen)
	assert.False(t, *pcapInput)
}
