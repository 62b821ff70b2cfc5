package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/me/pyra/internal/params"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

type recorder struct {
	channel string
	err     error
	calls   int
	subject string
}

func (r *recorder) Channel() string { return r.channel }

func (r *recorder) Deliver(_ context.Context, subject, _ string) error {
	r.calls++
	r.subject = subject
	return r.err
}

func TestRegistry_Enabled(t *testing.T) {
	env := envMap(map[string]string{
		EnvProwlAPIKey: "key",
		EnvEmail:       "me@example.org",
		EnvSMTPServer:  "mail.example.org",
	})
	reg := DefaultRegistry(env, newTestLogger())

	tests := []struct {
		name   string
		values map[string]string
		want   []string
	}{
		{"none", map[string]string{}, nil},
		{"prowl only", map[string]string{"notification_prowl": "on"}, []string{ChannelProwl}},
		{"both", map[string]string{"notification_prowl": "on", "notification_email": "on"}, []string{ChannelEmail, ChannelProwl}},
		{"not on", map[string]string{"notification_email": "yes"}, nil},
		{"unregistered", map[string]string{"notification_pager": "on"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Enabled(params.NewSnapshot(tt.values))
			var names []string
			for _, n := range got {
				names = append(names, n.Channel())
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Enabled = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestRegistry_MissingEnvSkipsChannel(t *testing.T) {
	reg := DefaultRegistry(envMap(nil), newTestLogger())
	got := reg.Enabled(params.NewSnapshot(map[string]string{
		"notification_prowl": "on",
		"notification_email": "on",
	}))
	if len(got) != 0 {
		t.Errorf("Enabled = %d notifiers, want 0", len(got))
	}
}

func TestRegistry_BuildUnknown(t *testing.T) {
	reg := NewRegistry(envMap(nil), newTestLogger())
	if _, err := reg.Build("pager"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Build err = %v, want ErrUnknownChannel", err)
	}
}

func TestDeliverAll_ContinuesPastFailure(t *testing.T) {
	bad := &recorder{channel: "bad", err: errors.New("down")}
	good := &recorder{channel: "good"}

	err := DeliverAll(context.Background(), []Notifier{bad, good, None{}}, "run complete: /w", "msg", newTestLogger())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("err = %v, want joined failure", err)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Errorf("calls bad=%d good=%d, want 1 each", bad.calls, good.calls)
	}
	if good.subject != "run complete: /w" {
		t.Errorf("subject = %q", good.subject)
	}
}

func TestProwl_Deliver(t *testing.T) {
	var got http.Header
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		form = map[string]string{
			"apikey":      r.PostForm.Get("apikey"),
			"application": r.PostForm.Get("application"),
			"event":       r.PostForm.Get("event"),
			"description": r.PostForm.Get("description"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &Prowl{APIKey: "k1", Application: "pyra", Endpoint: srv.URL, Client: srv.Client()}
	if err := p.Deliver(context.Background(), "run complete: /x", "report"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if ct := got.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := map[string]string{"apikey": "k1", "application": "pyra", "event": "run complete: /x", "description": "report"}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, form[k], v)
		}
	}
}

func TestProwl_DeliverRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := &Prowl{APIKey: "nope", Endpoint: srv.URL, Client: srv.Client()}
	err := p.Deliver(context.Background(), "s", "m")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401 failure", err)
	}
}

func TestEmail_Deliver(t *testing.T) {
	var addr, from string
	var to []string
	var body string
	e := &Email{
		Address: "me@example.org",
		Server:  "mail.example.org",
		Send: func(a string, _ smtp.Auth, f string, rcpt []string, msg []byte) error {
			addr, from, to, body = a, f, rcpt, string(msg)
			return nil
		},
	}

	if err := e.Deliver(context.Background(), "run complete: /w", "line1\nline2"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if addr != "mail.example.org:25" {
		t.Errorf("addr = %q, want default port", addr)
	}
	if from != "me@example.org" || len(to) != 1 || to[0] != "me@example.org" {
		t.Errorf("from=%q to=%v", from, to)
	}
	if !strings.Contains(body, "Subject: [pyra] run complete: /w\r\n") {
		t.Errorf("body missing subject: %q", body)
	}
	if !strings.HasSuffix(body, "line1\r\nline2") {
		t.Errorf("body = %q", body)
	}
}

func TestEmail_DeliverError(t *testing.T) {
	e := &Email{
		Address: "me@example.org",
		Server:  "mail.example.org:2525",
		Send: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		},
	}
	if err := e.Deliver(context.Background(), "s", "m"); err == nil {
		t.Error("Deliver expected error")
	}
}

func TestServerAddr(t *testing.T) {
	tests := map[string]string{
		"mail":       "mail:25",
		"mail:587":   "mail:587",
		"10.0.0.1":   "10.0.0.1:25",
		"[::1]:2525": "[::1]:2525",
	}
	for in, want := range tests {
		if got := serverAddr(in); got != want {
			t.Errorf("serverAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
