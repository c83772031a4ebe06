package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/carewatch/internal/api"
	"github.com/ppiankov/carewatch/internal/audit"
	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/pipeline"
)

var fixedNow = func() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) }

// testServer spins up an in-process gRPC server on a random port and returns a connection.
func testServer(t *testing.T, mode string, configPath string) (*grpc.ClientConn, *Server, *audit.Memory) {
	t.Helper()

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Mode = mode
	mem := audit.NewMemory()
	p, err := pipeline.Build(cfg, pipeline.Options{Sink: mem, Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}

	srv := New(p, Config{ConfigPath: configPath, Now: fixedNow})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec{})))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		p.Close()
	})
	return conn, srv, mem
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestHandleCompletesLive(t *testing.T) {
	conn, _, mem := testServer(t, "live", missingConfig(t))

	var resp model.Response
	err := conn.Invoke(context.Background(), api.MethodHandle,
		&api.HandleRequest{Text: "book a follow-up for Ravi Kumar in cardiology tomorrow", TraceID: "t-remote"}, &resp)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Status != model.Completed || resp.TraceID != "t-remote" {
		t.Fatalf("unexpected response %+v", resp)
	}
	appt := resp.Results["appointment"].(map[string]any)
	if appt["status"] != "CONFIRMED" {
		t.Errorf("unexpected appointment %v", appt)
	}
	if n := len(mem.Events()); n != 8 {
		t.Errorf("expected 8 audit events, got %d", n)
	}
}

func TestHandleDryRunFlagDowngrades(t *testing.T) {
	conn, _, mem := testServer(t, "live", missingConfig(t))

	var resp model.Response
	err := conn.Invoke(context.Background(), api.MethodHandle,
		&api.HandleRequest{Text: "book Ravi Kumar cardiology today", DryRun: true}, &resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range mem.Events() {
		if ev.Mode != model.DryRun {
			t.Fatalf("expected dry-run events only, got %s", ev.Mode)
		}
	}
}

func TestStepRoundTripsState(t *testing.T) {
	conn, _, _ := testServer(t, "dry_run", missingConfig(t))
	ctx := context.Background()

	var first api.StepResponse
	if err := conn.Invoke(ctx, api.MethodStep, &api.StepRequest{Input: "book an appointment"}, &first); err != nil {
		t.Fatal(err)
	}
	if first.Response.Status != model.NeedsMoreInfo || len(first.Response.Questions) != 3 {
		t.Fatalf("unexpected first turn %+v", first.Response)
	}

	var second api.StepResponse
	if err := conn.Invoke(ctx, api.MethodStep, &api.StepRequest{State: first.State, Input: "Ravi Kumar neurology friday"}, &second); err != nil {
		t.Fatal(err)
	}
	if second.Response.Status != model.Completed {
		t.Fatalf("expected COMPLETED, got %+v", second.Response)
	}
}

func TestDispatchLiveRequiresLiveServer(t *testing.T) {
	conn, _, _ := testServer(t, "dry_run", missingConfig(t))

	var res model.DispatchResult
	err := conn.Invoke(context.Background(), api.MethodDispatch,
		&api.DispatchRequest{Tool: "search_patient", Arguments: map[string]any{"name": "Ravi Kumar"}, Live: true}, &res)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != model.DryRun {
		t.Fatalf("expected dry-run server to refuse live execution, got %s", res.Mode)
	}
}

func TestDispatchErrorsMapToStatusCodes(t *testing.T) {
	conn, _, mem := testServer(t, "live", missingConfig(t))
	ctx := context.Background()

	tests := []struct {
		name string
		req  *api.DispatchRequest
		code codes.Code
	}{
		{"unknown tool", &api.DispatchRequest{Tool: "delete_patient"}, codes.NotFound},
		{"missing param", &api.DispatchRequest{Tool: "search_patient", Arguments: map[string]any{}}, codes.InvalidArgument},
		{"bad department", &api.DispatchRequest{Tool: "find_available_slots", Arguments: map[string]any{
			"department": "Dermatology", "start_date": "2025-01-16", "end_date": "2025-01-23"}}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res model.DispatchResult
			err := conn.Invoke(ctx, api.MethodDispatch, tt.req, &res)
			if status.Code(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
	if n := len(mem.Events()); n != 0 {
		t.Fatalf("rejected dispatches must not audit, got %d events", n)
	}
}

func TestOperationsListsRegistry(t *testing.T) {
	conn, _, _ := testServer(t, "dry_run", missingConfig(t))

	var resp api.OperationsResponse
	if err := conn.Invoke(context.Background(), api.MethodOperations, &api.OperationsRequest{}, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Operations) != 4 || resp.Operations[0].Name != "search_patient" {
		t.Fatalf("unexpected operations %+v", resp.Operations)
	}
}

func TestReloadConfigSwapsGate(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "mode: dry_run\n")
	conn, srv, _ := testServer(t, "dry_run", path)

	if err := os.WriteFile(path, []byte("intent: {keywords: [reschedule]}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := srv.ReloadConfig(); err != nil {
		t.Fatal(err)
	}

	var resp model.Response
	if err := conn.Invoke(context.Background(), api.MethodHandle, &api.HandleRequest{Text: "book an appointment"}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != model.Refused {
		t.Fatalf("expected reloaded gate to refuse, got %s", resp.Status)
	}
}

func TestReloadConfigKeepsPreviousOnError(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "mode: dry_run\n")
	_, srv, _ := testServer(t, "dry_run", path)

	os.WriteFile(path, []byte("slots: []\n"), 0644)
	if err := srv.ReloadConfig(); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	resp := srv.pipe.Orchestrator.Handle(context.Background(), "book an appointment")
	if resp.Status != model.NeedsMoreInfo || len(resp.Questions) != 3 {
		t.Fatalf("expected previous slot config to remain, got %+v", resp)
	}
}

type countingTarget struct {
	calls chan error
}

func (c *countingTarget) ReloadConfig() error {
	err := errors.New("boom")
	c.calls <- err
	return err
}

func TestReloaderDebouncesWrites(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "mode: dry_run\n")
	target := &countingTarget{calls: make(chan error, 10)}

	r, err := NewReloader(target, nil, path, "", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Paths()) != 1 {
		t.Fatalf("expected only existing path watched, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 3; i++ {
		os.WriteFile(path, []byte("mode: live\n"), 0644)
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-target.calls:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload after writes")
	}
	select {
	case <-target.calls:
		t.Fatal("expected burst of writes to be debounced into one reload")
	case <-time.After(800 * time.Millisecond):
	}
}
