package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSiteverify(t *testing.T, status int, body string) (*RecaptchaClient, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" {
			t.Errorf("expected secret to be forwarded, got %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("response") != "tok" {
			t.Errorf("expected token to be forwarded, got %q", r.PostForm.Get("response"))
		}
		if r.PostForm.Get("remoteip") != "203.0.113.9" {
			t.Errorf("expected remote ip to be forwarded, got %q", r.PostForm.Get("remoteip"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &RecaptchaClient{HTTPClient: srv.Client(), VerifyURL: srv.URL, Secret: "s3cret"}, &calls
}

func TestRecaptchaVerify(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantScore float64
		wantErr   error
		anyErr    bool
	}{
		{name: "human", status: 200, body: `{"success":true,"score":0.9,"action":"submit","hostname":"tanyaaja.in"}`, wantScore: 0.9},
		{name: "bot", status: 200, body: `{"success":true,"score":0.1}`, wantScore: 0.1},
		{name: "replayed token scores zero", status: 200, body: `{"success":false,"error-codes":["timeout-or-duplicate"]}`, wantScore: 0},
		{name: "invalid token scores zero", status: 200, body: `{"success":false,"error-codes":["invalid-input-response"]}`, wantScore: 0},
		{name: "bad secret", status: 200, body: `{"success":false,"error-codes":["invalid-input-secret"]}`, wantErr: ErrMisconfigured},
		{name: "score missing", status: 200, body: `{"success":true}`, wantErr: ErrMalformedResponse},
		{name: "score out of range", status: 200, body: `{"success":true,"score":1.5}`, wantErr: ErrMalformedResponse},
		{name: "not json", status: 200, body: `<html>`, wantErr: ErrMalformedResponse},
		{name: "server error", status: 503, body: `{}`, anyErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, calls := newSiteverify(t, tc.status, tc.body)
			got, err := client.Verify(context.Background(), "tok", "203.0.113.9")
			if *calls != 1 {
				t.Fatalf("expected exactly one verifier call, got %d", *calls)
			}
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Score != tc.wantScore {
					t.Fatalf("expected score %v, got %v", tc.wantScore, got.Score)
				}
			}
		})
	}
}

func TestRecaptchaVerifyTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	client := &RecaptchaClient{VerifyURL: url, Secret: "s"}
	if _, err := client.Verify(context.Background(), "tok", ""); err == nil {
		t.Fatal("expected transport failure")
	}
}
