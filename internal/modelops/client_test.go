package modelops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

// controlPlane is a fake training service. Each job reports InProgress
// for a fixed number of polls before reaching its final status.
type controlPlane struct {
	mu         sync.Mutex
	jobs       map[string]TrainingJob
	polls      map[string]int
	pollsUntil int
	final      string
	models     map[string]ModelRecord
	statusErrs int
	authHeader string
}

func newControlPlane(pollsUntil int, final string) *controlPlane {
	return &controlPlane{
		jobs:       make(map[string]TrainingJob),
		polls:      make(map[string]int),
		models:     make(map[string]ModelRecord),
		pollsUntil: pollsUntil,
		final:      final,
	}
}

func (cp *controlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.authHeader = r.Header.Get("Authorization")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/training-jobs":
		var job TrainingJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cp.jobs[job.Name] = job
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/training-jobs/"):
		name := strings.TrimPrefix(r.URL.Path, "/training-jobs/")
		job, ok := cp.jobs[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if cp.statusErrs > 0 {
			cp.statusErrs--
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		cp.polls[name]++
		status := JobStatus{Name: name, Status: JobInProgress}
		if cp.polls[name] >= cp.pollsUntil {
			status.Status = cp.final
			if cp.final == JobCompleted {
				status.ArtifactURI = strings.TrimSuffix(job.OutputPrefix, "/") + "/" + name + "/model.tar.gz"
			} else {
				status.FailureReason = "AlgorithmError: not enough positive samples"
			}
		}
		json.NewEncoder(w).Encode(status)

	case r.Method == http.MethodPost && r.URL.Path == "/models":
		var rec ModelRecord
		json.NewDecoder(r.Body).Decode(&rec)
		rec.InvokeURL = "http://models.local/" + rec.Name + "/invocations"
		cp.models[rec.Name] = rec
		json.NewEncoder(w).Encode(rec)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(url string) *Client {
	return NewClient(domain.ModelOpsConfig{
		BaseURL:         url,
		Token:           "secret",
		PollInterval:    time.Millisecond,
		MaxPollInterval: 5 * time.Millisecond,
	}, nil)
}

func TestTrain(t *testing.T) {
	cp := newControlPlane(3, JobCompleted)
	server := httptest.NewServer(cp)
	defer server.Close()

	client := newTestClient(server.URL)
	artifact, err := client.Train(context.Background(), TrainingJob{
		Name:         "fraud-retrain-1",
		InputPrefix:  "training-data/",
		OutputPrefix: "training-output/",
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if artifact != "training-output/fraud-retrain-1/model.tar.gz" {
		t.Errorf("unexpected artifact %s", artifact)
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.polls["fraud-retrain-1"] != 3 {
		t.Errorf("expected 3 polls, got %d", cp.polls["fraud-retrain-1"])
	}
	if cp.jobs["fraud-retrain-1"].InputPrefix != "training-data/" {
		t.Errorf("input prefix not sent: %+v", cp.jobs["fraud-retrain-1"])
	}
	if cp.authHeader != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", cp.authHeader)
	}
}

func TestTrainRetriesTransientStatusErrors(t *testing.T) {
	cp := newControlPlane(1, JobCompleted)
	cp.statusErrs = 2
	server := httptest.NewServer(cp)
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Train(context.Background(), TrainingJob{Name: "job", OutputPrefix: "out/"}); err != nil {
		t.Fatalf("transient errors should be retried: %v", err)
	}
}

func TestTrainFailed(t *testing.T) {
	cp := newControlPlane(2, JobFailed)
	server := httptest.NewServer(cp)
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Train(context.Background(), TrainingJob{Name: "job", OutputPrefix: "out/"})
	if !errors.Is(err, domain.ErrTrainingFailed) {
		t.Fatalf("expected ErrTrainingFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "not enough positive samples") {
		t.Errorf("failure reason should be surfaced: %v", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	cp := newControlPlane(1_000_000, JobCompleted)
	server := httptest.NewServer(cp)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := newTestClient(server.URL)
	_, err := client.Train(ctx, TrainingJob{Name: "job", OutputPrefix: "out/"})
	if !errors.Is(err, domain.ErrTrainingFailed) {
		t.Errorf("expected ErrTrainingFailed on timeout, got %v", err)
	}
}

func TestTrainStartRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Train(context.Background(), TrainingJob{Name: "job"})
	if !errors.Is(err, domain.ErrTrainingFailed) {
		t.Errorf("expected ErrTrainingFailed, got %v", err)
	}

	if _, err := client.Train(context.Background(), TrainingJob{}); !errors.Is(err, domain.ErrTrainingFailed) {
		t.Errorf("expected ErrTrainingFailed for unnamed job, got %v", err)
	}
}

func TestCreateModel(t *testing.T) {
	cp := newControlPlane(1, JobCompleted)
	server := httptest.NewServer(cp)
	defer server.Close()

	client := newTestClient(server.URL)
	invokeURL, err := client.CreateModel(context.Background(), "fraud-model-1", "out/model.tar.gz")
	if err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}
	if invokeURL != "http://models.local/fraud-model-1/invocations" {
		t.Errorf("unexpected invoke url %s", invokeURL)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	_, err = newTestClient(failing.URL).CreateModel(context.Background(), "m", "a")
	if !errors.Is(err, domain.ErrModelCreationFailed) {
		t.Errorf("expected ErrModelCreationFailed, got %v", err)
	}
}
