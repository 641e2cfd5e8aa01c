package database

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

func testManifest(runID string) *models.Manifest {
	return &models.Manifest{
		RunID:       runID,
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Tests: []models.TestSpec{
			{Classname: "file.media_check.a_mkv", Kind: models.TestKindMediaCheck, Generator: "media_check", Protocol: models.ProtocolFile, URI: "file:///a.mkv"},
			{Classname: "file.playback.reverse_playback.a_webm", Kind: models.TestKindLaunch, Generator: "playback", Protocol: models.ProtocolFile, Scenario: "reverse_playback", Skip: true, SkipReason: "no reverse"},
		},
		Pending: []string{"https://bugs/1"},
	}
}

func TestTestRows(t *testing.T) {
	rows, err := testRows(testManifest("run-1"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Len(t, row, len(testColumns))
	}

	second := rows[1]
	assert.Equal(t, "run-1", second[0])
	assert.Equal(t, 1, second[1])
	assert.Equal(t, "file.playback.reverse_playback.a_webm", second[2])
	assert.Equal(t, "launch", second[3])
	assert.Equal(t, "reverse_playback", second[7])
	assert.Equal(t, true, second[8])
	assert.Equal(t, "no reverse", second[9])

	var spec models.TestSpec
	require.NoError(t, json.Unmarshal(second[10].([]byte), &spec))
	assert.Equal(t, "file.playback.reverse_playback.a_webm", spec.Classname)
}

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	host := os.Getenv("TESTMATRIX_DATABASE_HOST")
	if host == "" {
		t.Skip("Skipping integration test - TESTMATRIX_DATABASE_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("TESTMATRIX_DATABASE_PORT"))
	if port == 0 {
		port = 5432
	}

	ctx := context.Background()
	db, err := New(ctx, config.DatabaseConfig{
		Host: host, Port: port, User: "postgres", Password: "postgres",
		DBName: "testmatrix", SSLMode: "disable", MaxConns: 2, MinConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return NewRepository(db, nil)
}

func TestRepository_Runs(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, repo.SaveManifest(ctx, testManifest(runID)))
	t.Cleanup(func() { _ = repo.DeleteRun(context.Background(), runID) })

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Runnable)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, []string{"https://bugs/1"}, run.Pending)

	specs, err := repo.GetRunTests(ctx, runID)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "file.media_check.a_mkv", specs[0].Classname)

	spec, err := repo.GetTest(ctx, runID, "file.playback.reverse_playback.a_webm")
	require.NoError(t, err)
	assert.True(t, spec.Skip)

	_, err = repo.GetTest(ctx, runID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	counts, err := repo.CountSkippedByGenerator(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"playback": 1}, counts)

	require.NoError(t, repo.DeleteRun(ctx, runID))
	_, err = repo.GetRun(ctx, runID)
	assert.ErrorIs(t, err, ErrNotFound)
}
