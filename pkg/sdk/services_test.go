package zoomdex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDatasets(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/datasets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"m31","index_state":"ready"},{"id":"m51","index_state":"not_indexed"}],"total":2}`))
	})

	list, err := c.Datasets(context.Background())
	if err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if list.Total != 2 || len(list.Items) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list.Items[0].ID != "m31" || list.Items[0].IndexState != "ready" {
		t.Fatalf("items[0] = %+v", list.Items[0])
	}
}

func TestDataset(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/m31" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m31","width":40000,"height":12000,"tile_size":256,"levels":9,"format":"png","index_state":"ready"}`))
	})

	ds, err := c.Dataset(context.Background(), "m31")
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if ds.Width != 40000 || ds.TileSize != 256 || ds.Levels != 9 {
		t.Fatalf("dataset = %+v", ds)
	}
}

func TestDataset_NotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"kind":"not_found","message":"not found"}`))
	})

	if _, err := c.Dataset(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestBuildIndex(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/datasets/m31/index" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"job-1","dataset_id":"m31","status":"queued","started_at":"2026-08-25T10:00:00Z"}`))
	})

	job, err := c.BuildIndex(context.Background(), "m31")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if job.ID != "job-1" || job.Status != "queued" || job.FinishedAt != nil {
		t.Fatalf("job = %+v", job)
	}
}

func TestBuildIndex_AlreadyIndexing(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"kind":"already_indexing","message":"index build already running"}`))
	})

	if _, err := c.BuildIndex(context.Background(), "m31"); !errors.Is(err, ErrAlreadyIndexing) {
		t.Fatalf("err = %v, want already indexing", err)
	}
}

func TestIndexStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/datasets/m31/index" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"state": "ready",
			"job": {
				"id": "job-1", "dataset_id": "m31", "status": "ready",
				"started_at": "2026-08-25T10:00:00Z",
				"finished_at": "2026-08-25T10:05:00Z",
				"report": {
					"sampled": 900, "encoded": 880, "indexed": 880, "skipped": 20,
					"failures": [{"patch_id": 7, "reason": "encode: timeout"}]
				}
			}
		}`))
	})

	st, err := c.IndexStatus(context.Background(), "m31")
	if err != nil {
		t.Fatalf("IndexStatus: %v", err)
	}
	if st.State != "ready" || st.Job == nil {
		t.Fatalf("status = %+v", st)
	}
	if st.Job.Report == nil || st.Job.Report.Indexed != 880 || st.Job.Report.Skipped != 20 {
		t.Fatalf("report = %+v", st.Job.Report)
	}
	if len(st.Job.Report.Failures) != 1 || st.Job.Report.Failures[0].PatchID != 7 {
		t.Fatalf("failures = %+v", st.Job.Report.Failures)
	}
	if st.Job.FinishedAt == nil || !st.Job.FinishedAt.After(st.Job.StartedAt) {
		t.Fatalf("timestamps = %v / %v", st.Job.StartedAt, st.Job.FinishedAt)
	}
}

func TestIndexStatus_NoJob(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"not_indexed"}`))
	})

	st, err := c.IndexStatus(context.Background(), "m31")
	if err != nil {
		t.Fatalf("IndexStatus: %v", err)
	}
	if st.State != "not_indexed" || st.Job != nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestInvalidateIndex(t *testing.T) {
	var method, path string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.InvalidateIndex(context.Background(), "m31"); err != nil {
		t.Fatalf("InvalidateIndex: %v", err)
	}
	if method != http.MethodDelete || path != "/v1/datasets/m31/index" {
		t.Fatalf("request = %s %s", method, path)
	}
}

func TestSearch_RoundTrip(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/m31/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{"rank": 1, "patch_id": 42, "score": 0.91, "bbox": {"x": 10, "y": 20, "width": 256, "height": 256}, "level": 3},
				{"rank": 2, "patch_id": 7, "score": 0.83, "bbox": {"x": 500, "y": 600, "width": 128, "height": 128}, "level": 2}
			],
			"total": 2,
			"cancelled": false
		}`))
	})

	level := 3
	out, err := c.Search(context.Background(), "m31", SearchRequest{
		Query:    "spiral galaxy",
		TopK:     10,
		MinScore: 0.5,
		Expand:   true,
		Level:    &level,
		Within:   &BBox{X: 0, Y: 0, Width: 4096, Height: 4096},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if body["query"] != "spiral galaxy" || body["top_k"] != float64(10) {
		t.Fatalf("request body = %v", body)
	}
	if body["expand"] != true || body["min_score"] != 0.5 || body["level"] != float64(3) {
		t.Fatalf("request body = %v", body)
	}
	within, ok := body["within"].(map[string]any)
	if !ok || within["width"] != float64(4096) {
		t.Fatalf("within = %v", body["within"])
	}

	if out.Total != 2 || out.Cancelled {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Hits[0].PatchID != 42 || out.Hits[0].Score != 0.91 || out.Hits[0].BBox.Width != 256 {
		t.Fatalf("hits[0] = %+v", out.Hits[0])
	}
}

func TestSearch_OmitsUnsetFilter(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"items":[],"total":0,"cancelled":false}`))
	})

	if _, err := c.Search(context.Background(), "m31", SearchRequest{Query: "x"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := body["level"]; ok {
		t.Fatalf("level serialized for an unrestricted search: %v", body)
	}
	if _, ok := body["within"]; ok {
		t.Fatalf("within serialized for an unrestricted search: %v", body)
	}
}

func TestSearch_Cancelled(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"items":[{"rank":1,"patch_id":1,"score":0.9,"bbox":{"x":0,"y":0,"width":64,"height":64},"level":1}],"total":1,"cancelled":true}`))
	})

	out, err := c.Search(context.Background(), "m31", SearchRequest{Query: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !out.Cancelled || len(out.Hits) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDetect(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/m31/detect" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"rank":1,"confidence":0.88,"bbox":{"x":100,"y":200,"width":64,"height":64}}],"total":1,"cancelled":false}`))
	})

	out, err := c.Detect(context.Background(), "m31", DetectRequest{
		Query:               "bright star",
		ConfidenceThreshold: 0.7,
		MaxResults:          25,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if body["confidence_threshold"] != 0.7 || body["max_results"] != float64(25) {
		t.Fatalf("request body = %v", body)
	}
	if len(out.Detections) != 1 || out.Detections[0].Confidence != 0.88 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestClassify(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/m31/classify" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"primary": "nebula", "confidence": 0.81,
			"alternatives": [{"label": "star cluster", "confidence": 0.12}],
			"fallback": false
		}`))
	})

	cls, err := c.Classify(context.Background(), "m31", BBox{X: 10, Y: 20, Width: 300, Height: 300})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	bbox, ok := body["bbox"].(map[string]any)
	if !ok || bbox["x"] != float64(10) || bbox["height"] != float64(300) {
		t.Fatalf("request body = %v", body)
	}
	if cls.Primary != "nebula" || cls.Fallback {
		t.Fatalf("classification = %+v", cls)
	}
	if len(cls.Alternatives) != 1 || cls.Alternatives[0].Label != "star cluster" {
		t.Fatalf("alternatives = %+v", cls.Alternatives)
	}
}

func TestClassify_Fallback(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"primary":"unknown","confidence":0,"fallback":true}`))
	})

	cls, err := c.Classify(context.Background(), "m31", BBox{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.Fallback || cls.Primary != "unknown" {
		t.Fatalf("classification = %+v", cls)
	}
}

func TestRegion(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datasets/m31/region" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("x") != "100" || q.Get("y") != "200" || q.Get("width") != "640" || q.Get("height") != "480" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Zoomdex-Source", "stitched")
		w.Header().Set("X-Zoomdex-Level", "4")
		w.Header().Set("X-Zoomdex-Tile-Count", "12")
		w.Write(pngBytes)
	})

	snip, err := c.Region(context.Background(), "m31", BBox{X: 100, Y: 200, Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	if string(snip.PNG) != string(pngBytes) {
		t.Fatalf("png bytes = %v", snip.PNG)
	}
	if snip.Source != "stitched" || snip.Level != 4 || snip.TileCount != 12 {
		t.Fatalf("provenance = %+v", snip)
	}
}

func TestRegion_InvalidInput(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"kind":"invalid_input","message":"width must be positive"}`))
	})

	_, err := c.Region(context.Background(), "m31", BBox{X: 1, Y: 1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestReconstruct_Created(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/datasets/m31/reconstruct" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"dataset_id":"m31","width":40000,"height":12000,"size_bytes":1920000000,"created":true}`))
	})

	info, err := c.Reconstruct(context.Background(), "m31")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !info.Created || info.Width != 40000 {
		t.Fatalf("info = %+v", info)
	}
}

func TestReconstruct_Existing(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dataset_id":"m31","width":40000,"height":12000,"size_bytes":1920000000,"created":false}`))
	})

	info, err := c.Reconstruct(context.Background(), "m31")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if info.Created {
		t.Fatal("created = true for an existing asset")
	}
}

func TestHealth(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","checks":{"kv":"ok","tiles":"ok","encoder":"ok"},"indexes":{"tracked":3,"ready":2}}`))
	})

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || h.Checks["kv"] != "ok" {
		t.Fatalf("health = %+v", h)
	}
	if h.Indexes.Tracked != 3 || h.Indexes.Ready != 2 {
		t.Fatalf("indexes = %+v", h.Indexes)
	}
}

func TestHealth_DegradedIsNotAnError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","checks":{"kv":"ok","encoder":"error: connection refused"},"indexes":{"tracked":1,"ready":1}}`))
	})

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health on degraded server: %v", err)
	}
	if h.Status != "degraded" {
		t.Fatalf("status = %q", h.Status)
	}
}

// Polling a build job is the documented workflow; keep the shapes in sync.
func TestBuildThenPoll(t *testing.T) {
	finished := time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)
	polls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(Job{ID: "job-9", DatasetID: "m31", Status: "queued", StartedAt: finished.Add(-5 * time.Minute)})
		default:
			polls++
			st := IndexStatus{State: "indexing"}
			if polls > 1 {
				st = IndexStatus{State: "ready", Job: &Job{ID: "job-9", Status: "ready", FinishedAt: &finished}}
			}
			json.NewEncoder(w).Encode(st)
		}
	})

	ctx := context.Background()
	job, err := c.BuildIndex(ctx, "m31")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if job.Status != "queued" {
		t.Fatalf("job = %+v", job)
	}

	for i := 0; i < 5; i++ {
		st, err := c.IndexStatus(ctx, "m31")
		if err != nil {
			t.Fatalf("IndexStatus: %v", err)
		}
		if st.State == "ready" {
			if st.Job == nil || st.Job.FinishedAt == nil {
				t.Fatalf("ready status without finished job: %+v", st)
			}
			return
		}
	}
	t.Fatal("index never became ready")
}
