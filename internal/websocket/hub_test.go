package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
)

func job(status model.JobStatus, progress float64) *model.Job {
	return &model.Job{ID: "j1", Status: status, Progress: progress}
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DropsStaleUpdates(t *testing.T) {
	h := NewHub(logger.Nop())
	go h.Run()

	c := &Client{JobID: "j1", Send: make(chan []byte, 16)}
	h.Register(c)

	h.Publish(job(model.JobStatusGeneratingImages, 0.3))
	if msg := receive(t, c); msg["progress"] != 0.3 || msg["status"] != "generating_images" {
		t.Errorf("unexpected message %v", msg)
	}

	// Older stage and lower progress are both stale.
	h.Publish(job(model.JobStatusGeneratingScenario, 0.05))
	h.Publish(job(model.JobStatusGeneratingImages, 0.2))
	expectNothing(t, c)

	h.Publish(job(model.JobStatusRenderingVideo, 0.9))
	if msg := receive(t, c); msg["status"] != "rendering_video" {
		t.Errorf("unexpected message %v", msg)
	}

	done := job(model.JobStatusDone, 1)
	url := "https://cdn.example.com/video.mp4"
	done.OutputURL = &url
	h.Publish(done)
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeComplete || msg["outputUrl"] != url {
		t.Errorf("unexpected completion %v", msg)
	}

	h.Publish(job(model.JobStatusRenderingVideo, 0.95))
	expectNothing(t, c)
}

func TestHub_OtherJobsNotDelivered(t *testing.T) {
	h := NewHub(logger.Nop())
	go h.Run()

	c := &Client{JobID: "j1", Send: make(chan []byte, 4)}
	h.Register(c)

	other := job(model.JobStatusGeneratingImages, 0.5)
	other.ID = "j2"
	h.Publish(other)
	expectNothing(t, c)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(logger.Nop())

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(job(model.JobStatusGeneratingImages, float64(i)/1000))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestMessage(t *testing.T) {
	msg := "render failed: Could not load image"
	failed := job(model.JobStatusError, 0.9)
	failed.Error = &msg

	got, ok := Message(failed).(model.WSErrorMessage)
	if !ok {
		t.Fatalf("expected an error message, got %T", Message(failed))
	}
	if got.Error.Message != msg || got.Error.Code != "JOB_FAILED" {
		t.Errorf("unexpected error message %+v", got)
	}

	total, completed := 5, 2
	running := job(model.JobStatusGeneratingNarration, 0.6)
	running.TotalShots = &total
	running.CompletedShots = &completed
	progress, ok := Message(running).(model.WSProgressMessage)
	if !ok {
		t.Fatalf("expected a progress message, got %T", Message(running))
	}
	if *progress.TotalShots != 5 || *progress.CompletedShots != 2 {
		t.Errorf("unexpected shot counts %+v", progress)
	}
}
