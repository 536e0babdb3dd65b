package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/process"
)

func TestMetricsJSON(t *testing.T) {
	srv, ctrl, _ := testServer(t)
	ctrl.stats = qlc.Stats{State: qlc.StateConnected, Connected: true, FramesTx: 12, Functions: 2}

	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if !m.MQTT.Connected {
		t.Error("MQTT.Connected = false, want true")
	}
	if m.Controller.FramesTx != 12 || !m.Controller.Connected {
		t.Errorf("controller = %+v", m.Controller)
	}
	if m.Bridge == nil || m.Bridge.Status != "healthy" {
		t.Errorf("bridge = %+v", m.Bridge)
	}
	if m.Classifications == nil || m.Classifications.Cached != 4 {
		t.Errorf("classifications = %+v", m.Classifications)
	}
}

func TestMetricsJSON_OptionalSections(t *testing.T) {
	srv, _, _ := testServer(t, func(d *Deps) {
		d.Bridge = nil
		d.Classifications = nil
		d.MQTT = nil
	})
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	body := w.Body.String()
	for _, key := range []string{`"bridge"`, `"classifications"`, `"process"`} {
		if strings.Contains(body, key) {
			t.Errorf("response contains %s without a provider: %s", key, body)
		}
	}
}

type fixedProcess process.Stats

func (p fixedProcess) Stats() process.Stats { return process.Stats(p) }

func TestMetricsJSON_Process(t *testing.T) {
	srv, _, _ := testServer(t, func(d *Deps) {
		d.Process = fixedProcess{Name: "qlcplus", Status: process.StatusRunning, PID: 4242, Restarts: 1}
	})
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	var m SystemMetrics
	decode(t, w, &m)
	if m.Process == nil || m.Process.PID != 4242 || m.Process.Status != process.StatusRunning || m.Process.Restarts != 1 {
		t.Errorf("process = %+v", m.Process)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	srv, ctrl, _ := testServer(t)
	ctrl.stats = qlc.Stats{
		Connected:     true,
		FramesTx:      5,
		FramesRx:      9,
		PushesApplied: 3,
		EchoesDropped: 1,
		Functions:     2,
		Widgets:       7,
	}

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"qlcbridge_controller_connected 1",
		`qlcbridge_controller_frames_total{direction="tx"} 5`,
		`qlcbridge_controller_frames_total{direction="rx"} 9`,
		`qlcbridge_controller_pushes_total{outcome="applied"} 3`,
		`qlcbridge_controller_frames_dropped_total{reason="echo"} 1`,
		`qlcbridge_controller_entities{kind="widget"} 7`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
