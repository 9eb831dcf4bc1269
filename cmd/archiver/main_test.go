package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abschwenker/wps/internal/observability"
	"github.com/abschwenker/wps/internal/scheduler"
	"github.com/abschwenker/wps/internal/types"
)

type fakePurger struct {
	input   scheduler.RetentionInput
	runID   string
	summary scheduler.RetentionSummary
	err     error
}

func (f *fakePurger) Purge(ctx context.Context, input scheduler.RetentionInput) (scheduler.RetentionSummary, error) {
	f.input = input
	f.runID = types.GetRunID(ctx)
	return f.summary, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_Success(t *testing.T) {
	job := &fakePurger{summary: scheduler.RetentionSummary{Deleted: 7, Batches: 1}}
	metrics := observability.NewMetricsForTesting()
	var pushedID string
	push := func(_ context.Context, runID string) error { pushedID = runID; return nil }

	ref := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	summary, err := newHandler(job, metrics, push, quietLogger())(context.Background(), scheduler.RetentionInput{ReferenceTime: ref})

	require.NoError(t, err)
	assert.Equal(t, int64(7), summary.Deleted)
	assert.Equal(t, ref, job.input.ReferenceTime)
	assert.NotEmpty(t, job.runID)
	assert.Equal(t, job.runID, pushedID)
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.RunsPurged))
}

func TestHandler_ErrorStillPushes(t *testing.T) {
	job := &fakePurger{summary: scheduler.RetentionSummary{Deleted: 2}, err: errors.New("deadlock")}
	metrics := observability.NewMetricsForTesting()
	pushed := false
	push := func(context.Context, string) error { pushed = true; return errors.New("gateway down") }

	_, err := newHandler(job, metrics, push, quietLogger())(context.Background(), scheduler.RetentionInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiver failed")
	assert.True(t, pushed)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RunsPurged))
}

func TestHandler_NilMetricsAndPush(t *testing.T) {
	job := &fakePurger{}
	_, err := newHandler(job, nil, nil, nil)(context.Background(), scheduler.RetentionInput{})
	assert.NoError(t, err)
}

func TestParseFlags(t *testing.T) {
	input, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-reference-time", "2024-07-15T12:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC), input.ReferenceTime.UTC())

	input, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.True(t, input.ReferenceTime.IsZero())

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = parseFlags(fs, []string{"-reference-time", "yesterday"})
	assert.Error(t, err)
}
