package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

func TestCycleFileName(t *testing.T) {
	ts := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "shorts_traffic_20260309_140507_c001.pcap", CycleFileName("shorts_traffic", 0, ts))
	assert.Equal(t, "x_20260309_140507_c012.pcap", CycleFileName("x", 11, ts))
}

func TestCyclePathAvoidsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)

	first, err := CyclePath(dir, "run", 0, ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_20260309_140507_c001.pcap"), first)

	require.NoError(t, os.WriteFile(first, nil, 0o644))
	second, err := CyclePath(dir, "run", 0, ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_20260309_140507_c001_1.pcap"), second)

	require.NoError(t, os.WriteFile(second, nil, 0o644))
	third, err := CyclePath(dir, "run", 0, ts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_20260309_140507_c001_2.pcap"), third)
}

func TestSummaryAndManifestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "p_summary.jsonl"), SummaryPath("out", "p"))
	assert.Equal(t, "out/a.pcap.json", ManifestPath("out/a.pcap"))
}

func readLines(t *testing.T, path string) []types.CycleResult {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []types.CycleResult
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r types.CycleResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestSummaryWriterKeepsEveryResultInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "p_summary.jsonl")
	w, err := NewSummaryWriter(path, 2, 10, nil)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		require.NoError(t, w.Write(types.CycleResult{CycleIndex: i, Outcome: types.OutcomeCompleted}))
	}
	require.NoError(t, w.Close())

	got := readLines(t, path)
	require.Len(t, got, 25)
	for i, r := range got {
		assert.Equal(t, i, r.CycleIndex)
	}

	assert.Error(t, w.Write(types.CycleResult{}))
	assert.NoError(t, w.Close())
}

func TestSummaryWriterConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	w, err := NewSummaryWriter(path, 4, 10, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, w.Write(types.CycleResult{CycleIndex: g*10 + i}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())
	assert.Len(t, readLines(t, path), 40)
}

func TestManifestStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewManifestStore(dir)
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, i := range []int{2, 0, 1} {
		m := Manifest{
			RunID: "run-1",
			Label: "shorts",
			Seed:  7,
			Result: types.CycleResult{
				CycleIndex: i,
				OutputPath: filepath.Join(dir, CycleFileName("shorts", i, base)),
				StartedAt:  base.Add(time.Duration(i) * time.Minute),
				Outcome:    types.OutcomeCompleted,
			},
		}
		require.NoError(t, store.Save(m))
	}

	t.Run("get", func(t *testing.T) {
		m, err := store.Get(filepath.Join(dir, CycleFileName("shorts", 1, base)))
		require.NoError(t, err)
		assert.Equal(t, 1, m.Result.CycleIndex)
		assert.Equal(t, uint64(7), m.Seed)
		assert.False(t, m.CreatedAt.IsZero())
	})

	t.Run("list_sorted_by_start", func(t *testing.T) {
		list, err := store.List()
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, m := range list {
			assert.Equal(t, i, m.Result.CycleIndex)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(filepath.Join(dir, "absent.pcap"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("rejects_foreign_paths", func(t *testing.T) {
		assert.Error(t, store.Save(Manifest{Result: types.CycleResult{OutputPath: filepath.Join(dir, "x.txt")}}))
		assert.Error(t, store.Save(Manifest{Result: types.CycleResult{OutputPath: "/elsewhere/x.pcap"}}))
	})

	t.Run("no_temp_files_left", func(t *testing.T) {
		tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, tmps)
	})
}
