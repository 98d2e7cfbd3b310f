package tasks

import (
	"encoding/json"
	"testing"
)

func TestQueueRoutingKeys(t *testing.T) {
	cases := map[Queue]string{
		QueueDownload:     "acquisition",
		QueueUpload:       "submission",
		QueueApproval:     "decision",
		QueueNotification: "notify",
		QueueSchedule:     "timer",
	}
	for queue, want := range cases {
		if !queue.Valid() {
			t.Errorf("%s not valid", queue)
		}
		if got := queue.RoutingKey(); got != want {
			t.Errorf("%s routing key = %q, want %q", queue, got, want)
		}
	}
	if Queue("bogus").Valid() {
		t.Error("bogus queue reported valid")
	}
}

func TestDecodePayload(t *testing.T) {
	raw, err := json.Marshal(StageJob{ProcessID: 42, Stage: "download"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	task := &Task{Payload: raw}
	var job StageJob
	if err := task.DecodePayload(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ProcessID != 42 || job.Stage != "download" {
		t.Fatalf("unexpected job %+v", job)
	}
}
