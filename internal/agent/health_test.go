package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/coordinator"
)

func TestRunHealthProbes_SucceedsWhenAllThreeProbesPass(t *testing.T) {
	botID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bots":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"bots": []coordinator.WorkerView{{ID: botID.String()}},
			})
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/metrics":
			w.Write([]byte("jobs_total 1\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newTestAgent(t, srv.URL)
	a.botID = botID

	if err := a.runHealthProbes(context.Background()); err != nil {
		t.Fatalf("runHealthProbes: %v", err)
	}
}

func TestRunHealthProbes_FailsWhenBotNotListed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bots":
			json.NewEncoder(w).Encode(map[string]interface{}{"bots": []coordinator.WorkerView{}})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	a := newTestAgent(t, srv.URL)
	a.botID = uuid.New()

	if err := a.runHealthProbes(context.Background()); err == nil {
		t.Fatal("expected an error when the bot is not present in the listing")
	}
}

func TestRunHealthProbes_ShortCircuitsOnHealthzFailure(t *testing.T) {
	calledMetrics := false
	botID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bots":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"bots": []coordinator.WorkerView{{ID: botID.String()}},
			})
		case "/healthz":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/metrics":
			calledMetrics = true
			w.Write([]byte("x"))
		}
	}))
	defer srv.Close()

	a := newTestAgent(t, srv.URL)
	a.botID = botID

	if err := a.runHealthProbes(context.Background()); err == nil {
		t.Fatal("expected an error when healthz fails")
	}
	if calledMetrics {
		t.Fatal("expected the metrics probe to be skipped after healthz fails")
	}
}
