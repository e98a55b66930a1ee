package calc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kingrea/reflweb/internal/calc"
	"github.com/kingrea/reflweb/internal/registry"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/calc_terminal", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(calc.RequestIDHeader) == "" {
			http.Error(w, `{"error":"missing request id"}`, http.StatusBadRequest)
			return
		}
		var req calc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad payload"}`, http.StatusBadRequest)
			return
		}
		if req.Terminal == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"module raised ValueError"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"datatype": "ncnr.refl.refldata",
			"values":   []any{map[string]any{"name": req.Template.Name, "node": req.Node}},
		})
	})
	mux.HandleFunc("/get_instrument", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InstrumentID string `json:"instrument_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.InstrumentID != "ncnr.refl" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such instrument"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "ncnr.refl",
			"modules": []any{map[string]any{"id": "ncnr.refl.load", "outputs": []any{map[string]any{"id": "output"}}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPServiceCalcTerminal(t *testing.T) {
	srv := newTestServer(t)
	svc := calc.NewHTTPService(calc.Settings{BaseURL: srv.URL + "/"})
	res, err := calc.NewClient(svc).Calc(context.Background(), calc.Request{
		Template: pipeline(), Node: 1, Terminal: "output", ReturnType: calc.ReturnMetadata,
	})
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	if res.Datatype != "ncnr.refl.refldata" {
		t.Fatalf("unexpected datatype %q", res.Datatype)
	}
	meta, _ := res.Metadata()
	if meta[0]["name"] != "pair" || meta[0]["node"] != 1.0 {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestHTTPServiceReportsDiagnostic(t *testing.T) {
	srv := newTestServer(t)
	svc := calc.NewHTTPService(calc.Settings{BaseURL: srv.URL})
	_, err := calc.NewClient(svc).Calc(context.Background(), calc.Request{
		Template: pipeline(), Node: 0, Terminal: "broken", ReturnType: calc.ReturnMetadata,
	})
	var evalErr *calc.EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
	if evalErr.Message != "module raised ValueError" {
		t.Fatalf("unexpected diagnostic %q", evalErr.Message)
	}
}

func TestHTTPServiceInstrument(t *testing.T) {
	srv := newTestServer(t)
	reg := registry.New(calc.NewHTTPService(calc.Settings{BaseURL: srv.URL}))
	if err := reg.LoadInstrument(context.Background(), "ncnr.refl"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := reg.ModuleDef("ncnr.refl.load"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	err := reg.LoadInstrument(context.Background(), "ncnr.sans")
	if !errors.Is(err, registry.ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestSettingsEnvOverrides(t *testing.T) {
	t.Setenv("REFLWEB_SERVICE_URL", "http://reduce.example.org/api/")
	t.Setenv("REFLWEB_MAX_PARALLEL", "3")
	s := calc.SettingsFromConfig(nil)
	if s.BaseURL != "http://reduce.example.org/api" || s.MaxParallel != 3 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Timeout != calc.DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", s.Timeout)
	}
}
