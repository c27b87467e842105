package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsforge/build-service/internal/api/dto"
	"github.com/hlsforge/build-service/internal/job"
	"github.com/hlsforge/build-service/internal/job/storage"
)

const testJobID = "4f9c36c2-8f7a-4f33-a55a-111111111111"

type fakeJobStore struct {
	rec *job.Record
}

func (f *fakeJobStore) CreateJob(ctx context.Context, rec *job.Record) error { return nil }

func (f *fakeJobStore) GetJob(ctx context.Context, id string) (*job.Record, error) {
	if f.rec == nil || f.rec.ID != id {
		return nil, job.ErrNotFound
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeJobStore) GetJobForUser(ctx context.Context, id, userID string) (*job.Record, error) {
	rec, err := f.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, job.ErrNotFound
	}
	return rec, nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, filter storage.Filter) ([]job.Record, error) {
	return nil, nil
}

func (f *fakeJobStore) MarkPaid(ctx context.Context, id string) error { return nil }

// fakeLogSink is an in-memory append-only log honoring the sink contract:
// per-job sequence numbers assigned at insertion, TailSince returns entries
// with seq >= offset in insertion order.
type fakeLogSink struct {
	entries []job.LogEntry
}

func (f *fakeLogSink) append(jobID, line string) {
	f.entries = append(f.entries, job.LogEntry{
		JobID: jobID,
		Seq:   len(f.entries),
		At:    time.Now(),
		Line:  line,
	})
}

func (f *fakeLogSink) TailSince(ctx context.Context, jobID string, offset int) ([]job.LogEntry, error) {
	var out []job.LogEntry
	for _, e := range f.entries {
		if e.JobID == jobID && e.Seq >= offset {
			out = append(out, e)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func tailRequest(t *testing.T, h *JobHandler, jobID string, offset int) (*httptest.ResponseRecorder, dto.TailLogsResponse) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/jobs/%s/logs?offset=%d", jobID, offset), nil)
	c.Params = gin.Params{{Key: "job_id", Value: jobID}}

	h.TailLogs(c)

	var resp dto.TailLogsResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}

	return w, resp
}

func TestTailLogs_RepeatedPollsNeverDuplicateOrDrop(t *testing.T) {
	sink := &fakeLogSink{}
	store := &fakeJobStore{rec: &job.Record{ID: testJobID, State: job.StatePaid}}
	h := &JobHandler{logger: testLogger(), store: store, sink: sink}

	appended := []string{
		"status changed: file_prepared",
		"status changed: instance_started",
		"status changed: connected",
	}
	for _, line := range appended {
		sink.append(testJobID, line)
	}

	// First poll from the start sees everything appended so far, in order.
	w, resp := tailRequest(t, h, testJobID, 0)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Lines, 3)
	for i, line := range appended {
		assert.Equal(t, i, resp.Lines[i].Seq)
		assert.Equal(t, line, resp.Lines[i].Line)
	}
	assert.Equal(t, 3, resp.NextOffset)

	// More lines arrive between polls.
	sink.append(testJobID, "build started")
	sink.append(testJobID, "status changed: done")

	// Polling from the returned offset yields only the new lines: nothing
	// repeated, nothing skipped.
	w, resp = tailRequest(t, h, testJobID, resp.NextOffset)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, 3, resp.Lines[0].Seq)
	assert.Equal(t, "build started", resp.Lines[0].Line)
	assert.Equal(t, 4, resp.Lines[1].Seq)
	assert.Equal(t, "status changed: done", resp.Lines[1].Line)
	assert.Equal(t, 5, resp.NextOffset)

	// A poll at the tail returns nothing and leaves the offset in place.
	w, resp = tailRequest(t, h, testJobID, resp.NextOffset)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Lines)
	assert.Equal(t, 5, resp.NextOffset)
}

func TestTailLogs_ReturnsStateSnapshot(t *testing.T) {
	sink := &fakeLogSink{}
	sink.append(testJobID, "status changed: done")
	store := &fakeJobStore{rec: &job.Record{ID: testJobID, State: job.StateDone, Done: true}}
	h := &JobHandler{logger: testLogger(), store: store, sink: sink}

	w, resp := tailRequest(t, h, testJobID, 0)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, testJobID, resp.JobID)
	assert.Equal(t, "done", resp.State)
	assert.True(t, resp.Done)
}

func TestTailLogs_UnknownJob(t *testing.T) {
	h := &JobHandler{logger: testLogger(), store: &fakeJobStore{}, sink: &fakeLogSink{}}

	w, _ := tailRequest(t, h, testJobID, 0)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTailLogs_RejectsBadOffset(t *testing.T) {
	store := &fakeJobStore{rec: &job.Record{ID: testJobID, State: job.StatePaid}}
	h := &JobHandler{logger: testLogger(), store: store, sink: &fakeLogSink{}}

	w, _ := tailRequest(t, h, testJobID, -1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
