package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/syncview/syncview-agent/internal/export"
)

func TestValidateExportWindows(t *testing.T) {
	env := newTestEnv(t)
	env.loadSlot(t, 0)
	env.addMarker(t, 500, nil)    // 2s of lead-in does not fit
	env.addMarker(t, 300000, nil) // mid-video, fine

	rr := env.do(t, http.MethodPost, "/export/validate", map[string]any{
		"before_sec": 2,
		"after_sec":  2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	body := decodeJSONBody(t, rr)
	if got := body["count"].(float64); got != 1 {
		t.Fatalf("count = %v, want 1", got)
	}
	issues := body["issues"].([]interface{})
	issue := issues[0].(map[string]interface{})
	if issue["problem"] != "insufficient_before" {
		t.Errorf("problem = %v, want insufficient_before", issue["problem"])
	}
	if got := issue["slot"].(float64); got != 0 {
		t.Errorf("slot = %v, want 0", got)
	}
}

func TestValidateExportCleanWindow(t *testing.T) {
	env := newTestEnv(t)
	env.loadSlot(t, 0)
	env.addMarker(t, 300000, nil)

	rr := env.do(t, http.MethodPost, "/export/validate", map[string]any{
		"before_sec": 2,
		"after_sec":  2,
	})

	body := decodeJSONBody(t, rr)
	if got := body["count"].(float64); got != 0 {
		t.Errorf("count = %v, want 0", got)
	}
	if _, ok := body["issues"].([]interface{}); !ok {
		t.Errorf("issues = %v, want an empty array, not null", body["issues"])
	}
}

func TestValidateExportBadWindow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/export/validate", map[string]any{
		"before_sec": 0,
		"after_sec":  0,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStartExportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.runner.block = make(chan struct{})
	env.loadSlot(t, 0)
	env.addMarker(t, 5000, nil)
	outDir := t.TempDir()

	startReq := map[string]any{"before_sec": 1, "after_sec": 1, "output_dir": outDir}
	rr := env.do(t, http.MethodPost, "/export", startReq)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	started := decodeJSONBody(t, rr)
	runID, _ := started["run_id"].(string)
	if runID == "" {
		t.Fatal("start response missing run_id")
	}
	if got := started["total"].(float64); got != 1 {
		t.Errorf("total = %v, want 1", got)
	}

	rr = env.do(t, http.MethodGet, "/export/active", nil)
	active := decodeJSONBody(t, rr)
	if active["active"] != true {
		t.Fatal("run not reported active")
	}
	run := active["run"].(map[string]interface{})
	if run["run_id"] != runID {
		t.Errorf("active run_id = %v, want %s", run["run_id"], runID)
	}

	rr = env.do(t, http.MethodGet, "/status", nil)
	status := decodeJSONBody(t, rr)
	if status["state"] != "exporting" {
		t.Errorf("state = %v, want exporting", status["state"])
	}
	if _, ok := status["active_run"]; !ok {
		t.Error("status missing active_run during a run")
	}

	rr = env.do(t, http.MethodPost, "/export", startReq)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if got := decodeJSONBody(t, rr)["code"]; got != "RUN_ACTIVE" {
		t.Errorf("code = %v, want RUN_ACTIVE", got)
	}

	rr = env.do(t, http.MethodPost, "/export/queue/clear", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("clear during run status = %d, want %d", rr.Code, http.StatusConflict)
	}

	rr = env.do(t, http.MethodPost, "/export/cancel", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	if got := decodeJSONBody(t, rr)["status"]; got != "cancelling" {
		t.Errorf("cancel status = %v, want cancelling", got)
	}

	close(env.runner.block)
	waitInactive(t, env.cfg.Engine)

	rr = env.do(t, http.MethodPost, "/export/cancel", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("cancel when idle status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if got := decodeJSONBody(t, rr)["code"]; got != "NO_ACTIVE_RUN" {
		t.Errorf("code = %v, want NO_ACTIVE_RUN", got)
	}

	rr = env.do(t, http.MethodGet, "/export/queue", nil)
	queue := decodeJSONBody(t, rr)
	if got := queue["pending"].(float64); got != 0 {
		t.Errorf("pending = %v, want 0 after cancel", got)
	}
	if got := queue["failed"].(float64); got != 0 {
		t.Errorf("failed = %v, want 0 after cancel", got)
	}

	rr = env.do(t, http.MethodPost, "/export/queue/clear", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	rr = env.do(t, http.MethodGet, "/export/queue", nil)
	if got := decodeJSONBody(t, rr)["total"].(float64); got != 0 {
		t.Errorf("total = %v, want 0 after clear", got)
	}
}

func TestStartExportCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.loadSlot(t, 0)
	env.addMarker(t, 5000, nil)
	outDir := t.TempDir()

	rr := env.do(t, http.MethodPost, "/export", map[string]any{
		"before_sec": 1,
		"after_sec":  1,
		"output_dir": outDir,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	waitInactive(t, env.cfg.Engine)

	if got := env.runner.encodeCalls.Load(); got != 1 {
		t.Errorf("encode called %d times, want 1", got)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "Export ") {
		t.Errorf("run folder not created under output dir: %v", entries)
	}

	rr = env.do(t, http.MethodGet, "/export/queue", nil)
	if got := decodeJSONBody(t, rr)["total"].(float64); got != 0 {
		t.Errorf("queue total = %v, want 0 after prune", got)
	}

	// The output dir is remembered, so the next run can omit it.
	rr = env.do(t, http.MethodPost, "/export", map[string]any{"before_sec": 1, "after_sec": 1})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("repeat status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	waitInactive(t, env.cfg.Engine)
}

func TestStartExportRejected(t *testing.T) {
	t.Run("zero window", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/export", map[string]any{"before_sec": 0, "after_sec": 0})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown quality", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/export", map[string]any{
			"before_sec": 1, "after_sec": 1, "output_dir": t.TempDir(), "quality": "ultra",
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("no output dir", func(t *testing.T) {
		env := newTestEnv(t)
		env.loadSlot(t, 0)
		env.addMarker(t, 5000, nil)
		rr := env.do(t, http.MethodPost, "/export", map[string]any{"before_sec": 1, "after_sec": 1})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
		if got := decodeJSONBody(t, rr)["error"]; got != "output_dir is required" {
			t.Errorf("error = %v", got)
		}
	})

	t.Run("no videos", func(t *testing.T) {
		env := newTestEnv(t)
		env.addMarker(t, 5000, nil)
		rr := env.do(t, http.MethodPost, "/export", map[string]any{
			"before_sec": 1, "after_sec": 1, "output_dir": t.TempDir(),
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("no markers", func(t *testing.T) {
		env := newTestEnv(t)
		env.loadSlot(t, 0)
		rr := env.do(t, http.MethodPost, "/export", map[string]any{
			"before_sec": 1, "after_sec": 1, "output_dir": t.TempDir(),
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})
}

func TestActiveExportIdle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/export/active", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if body["active"] != false {
		t.Errorf("active = %v, want false", body["active"])
	}
	if _, ok := body["run"]; ok {
		t.Error("run should be omitted when idle")
	}
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Queue.Add(&export.Job{
		ID:         "job_0000",
		VideoPath:  filepath.Join(t.TempDir(), "cam0.mp4"),
		MarkerTs:   5000,
		StartMs:    4000,
		EndMs:      6000,
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Status:     export.StatusFailed,
		MaxRetries: 2,
	})

	rr := env.do(t, http.MethodGet, "/export/queue", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if got := body["total"].(float64); got != 1 {
		t.Errorf("total = %v, want 1", got)
	}
	if got := body["failed"].(float64); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := body["pending"].(float64); got != 0 {
		t.Errorf("pending = %v, want 0", got)
	}
	jobs := body["jobs"].([]interface{})
	if first := jobs[0].(map[string]interface{}); first["job_id"] != "job_0000" {
		t.Errorf("jobs[0].job_id = %v", first["job_id"])
	}
}

func TestQueueEndpointEmptyArray(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/export/queue", nil)
	body := decodeJSONBody(t, rr)
	if _, ok := body["jobs"].([]interface{}); !ok {
		t.Errorf("jobs = %v, want an empty array, not null", body["jobs"])
	}
}

func TestResumeFailed(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Queue.Add(&export.Job{
		ID:         "job_0000",
		VideoPath:  filepath.Join(t.TempDir(), "cam0.mp4"),
		MarkerTs:   5000,
		StartMs:    4000,
		EndMs:      6000,
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Status:     export.StatusFailed,
		RetryCount: 2,
		MaxRetries: 2,
	})

	rr := env.do(t, http.MethodPost, "/export/queue/resume-failed", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	if got := decodeJSONBody(t, rr)["total"].(float64); got != 1 {
		t.Errorf("total = %v, want 1", got)
	}

	waitInactive(t, env.cfg.Engine)

	if got := env.runner.encodeCalls.Load(); got != 1 {
		t.Errorf("encode called %d times, want 1", got)
	}
	rr = env.do(t, http.MethodGet, "/export/queue", nil)
	if got := decodeJSONBody(t, rr)["total"].(float64); got != 0 {
		t.Errorf("queue total = %v, want 0 after completed retry", got)
	}
}

func TestResumeFailedEmptyQueue(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/export/queue/resume-failed", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
