package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func newFakeDaemon(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestStatusCommand(t *testing.T) {
	addr := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/info":
			fmt.Fprint(w, `{"name":"subtrans","version":"1.2.3","uptime_seconds":90}`)
		case "/api/tasks/stats":
			fmt.Fprint(w, `{"pending":2,"processing":1,"completed":4,"failed":0,"cancelled":0,"paused":0,"total":7}`)
		default:
			http.NotFound(w, r)
		}
	})

	out, err := runCommand(t, "--addr", addr, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "subtrans 1.2.3") {
		t.Fatalf("missing daemon line: %q", out)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "total") {
		t.Fatalf("missing stats table: %q", out)
	}
}

func TestTasksListJSON(t *testing.T) {
	addr := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("status"); got != "failed" {
			t.Errorf("status query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tasks":[{"id":7,"file_name":"movie.srt","status":"failed","progress":40,"target_language":"French","llm_provider":"openai","error_message":"auth_error: bad key"}],"total":1}`)
	})

	out, err := runCommand(t, "--addr", addr, "tasks", "list", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	var list taskList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != 7 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestTasksAdd(t *testing.T) {
	addr := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["file_path"] != "/media/movie.srt" || body["target_language"] != "French" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":3,"file_name":"movie.srt","target_language":"French","llm_provider":"openai"}`)
	})

	out, err := runCommand(t, "--addr", addr, "tasks", "add", "/media/movie.srt", "--target", "French")
	if err != nil {
		t.Fatalf("tasks add: %v", err)
	}
	if !strings.Contains(out, "queued task 3") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestTasksAddSkipConflict(t *testing.T) {
	addr := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"file skipped","skip_reason":"output_exists"}`)
	})

	_, err := runCommand(t, "--addr", addr, "tasks", "add", "/media/movie.srt")
	if err == nil {
		t.Fatal("expected error for skipped file")
	}
	if !strings.Contains(err.Error(), "output_exists") {
		t.Fatalf("error should carry skip reason: %v", err)
	}
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	if _, err := runCommand(t, "--addr", "127.0.0.1:1", "tasks", "delete-all"); err == nil {
		t.Fatal("expected refusal without --yes")
	}
}

func TestWatchersToggle(t *testing.T) {
	addr := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/watchers/5/toggle" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"enabled":false}`)
	})

	out, err := runCommand(t, "--addr", addr, "watchers", "toggle", "5")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !strings.Contains(out, "watcher 5 disabled") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSettingsSetRejectsBadPair(t *testing.T) {
	if _, err := runCommand(t, "--addr", "127.0.0.1:1", "settings", "set", "no-equals"); err == nil {
		t.Fatal("expected parse error")
	}
}
