package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/logging"
	"github.com/autsav/backgroundRemover/internal/repository"
)

type stubRecorder struct {
	savedLogs []*repository.ProcessingLog
	saveErr   error
	agg       *repository.MetricsAggregation
	aggErr    error
}

func (s *stubRecorder) SaveLog(ctx context.Context, log *repository.ProcessingLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRecorder) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return s.agg, s.aggErr
}

type stubProcessor struct {
	result    *imageprocessor.Result
	err       error
	requestID string
}

func (s *stubProcessor) RemoveBackground(ctx context.Context, imageData string) (*imageprocessor.Result, error) {
	s.requestID = logging.RequestIDFrom(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

var imageData = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpegbytes"))

func newClock(step time.Duration) func() time.Time {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestRemoveBackgroundRecordsSuccess(t *testing.T) {
	recorder := &stubRecorder{}
	processor := &stubProcessor{result: &imageprocessor.Result{Image: imageprocessor.File{URL: "https://x/out.png", ContentType: "image/png", Width: 10, Height: 20}}}
	uc := NewRemovalUseCase(processor, recorder, "General Use (Light)", zap.NewNop())
	uc.now = newClock(250 * time.Millisecond)

	ctx := logging.ContextWithSessionID(context.Background(), "sess-1")
	res, err := uc.RemoveBackground(ctx, imageData)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Image.URL != "https://x/out.png" {
		t.Fatalf("unexpected result %+v", res)
	}

	if len(recorder.savedLogs) != 1 {
		t.Fatalf("expected one log, got %d", len(recorder.savedLogs))
	}
	log := recorder.savedLogs[0]
	if log.Status != repository.StatusSucceeded || log.SessionID != "sess-1" {
		t.Fatalf("unexpected log %+v", log)
	}
	if log.RequestID == "" || log.RequestID != processor.requestID {
		t.Fatalf("request id not shared with processor: %q vs %q", log.RequestID, processor.requestID)
	}
	if log.InputType != "image/jpeg" || log.InputBytes != int64(len("jpegbytes")) {
		t.Fatalf("unexpected input metadata %+v", log)
	}
	if log.OutputType != "image/png" || log.Width != 10 || log.Height != 20 {
		t.Fatalf("unexpected output metadata %+v", log)
	}
	if log.LatencyMs != 250 {
		t.Fatalf("expected 250ms latency, got %d", log.LatencyMs)
	}
}

func TestRemoveBackgroundRecordsFailure(t *testing.T) {
	recorder := &stubRecorder{}
	uc := NewRemovalUseCase(&stubProcessor{err: errors.New("remote exploded")}, recorder, "m", zap.NewNop())

	_, err := uc.RemoveBackground(context.Background(), "garbage")
	if err == nil {
		t.Fatal("expected error")
	}
	log := recorder.savedLogs[0]
	if log.Status != repository.StatusFailed || log.ErrorDetail != "remote exploded" {
		t.Fatalf("unexpected log %+v", log)
	}
	if log.InputType != "" {
		t.Fatalf("unparseable input should leave input type empty, got %q", log.InputType)
	}
}

func TestRemoveBackgroundIgnoresAuditFailure(t *testing.T) {
	recorder := &stubRecorder{saveErr: errors.New("db down")}
	processor := &stubProcessor{result: &imageprocessor.Result{Image: imageprocessor.File{URL: "https://x/out.png"}}}
	uc := NewRemovalUseCase(processor, recorder, "m", zap.NewNop())

	res, err := uc.RemoveBackground(context.Background(), imageData)
	if err != nil || res == nil {
		t.Fatalf("audit failure must not fail removal: res=%v err=%v", res, err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	recorder := &stubRecorder{agg: &repository.MetricsAggregation{TotalCount: 4, SuccessCount: 3, AverageLatencyMs: 1200}}
	uc := NewRemovalUseCase(&stubProcessor{}, recorder, "m", zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.TotalRequests != 4 || summary.AverageProcessingLatencyMs != 1200 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestGetMetricsSummaryWithoutDatabase(t *testing.T) {
	uc := NewRemovalUseCase(&stubProcessor{}, nil, "m", zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRequests != 0 || summary.SuccessRate != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}
