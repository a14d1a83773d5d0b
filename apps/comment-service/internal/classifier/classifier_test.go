package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"goim-comment/pkg/logger"
)

func newClassifier(t *testing.T, cfg Config, detectors ...Detector) *Classifier {
	t.Helper()
	c, err := New(cfg, logger.NewNop(), detectors...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifyActions(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		body        string
		wantSpam    bool
		wantProfane bool
		wantAction  string
		wantBody    string
	}{
		{
			name:       "clean body",
			cfg:        Config{SpamWords: []string{"casino"}, SpamAction: ActionHide, ProfanityWords: []string{"darn"}, ProfanityAction: ActionCensor},
			body:       "a perfectly nice comment",
			wantAction: ActionNone,
		},
		{
			name:        "profanity censored",
			cfg:         Config{SpamAction: ActionHide, ProfanityWords: []string{"darn"}, ProfanityAction: ActionCensor},
			body:        "Darn it, DARN it",
			wantProfane: true,
			wantAction:  ActionCensor,
			wantBody:    "**** it, **** it",
		},
		{
			name:        "spam flag loses to profanity hide",
			cfg:         Config{SpamWords: []string{"cheap pills"}, SpamAction: ActionFlag, ProfanityWords: []string{"heck"}, ProfanityAction: ActionHide},
			body:        "heck, buy CHEAP PILLS now",
			wantSpam:    true,
			wantProfane: true,
			wantAction:  ActionHide,
		},
		{
			name:        "delete suppresses censoring",
			cfg:         Config{SpamWords: []string{"casino"}, SpamAction: ActionDelete, ProfanityWords: []string{"darn"}, ProfanityAction: ActionCensor},
			body:        "darn casino",
			wantSpam:    true,
			wantProfane: true,
			wantAction:  ActionDelete,
		},
		{
			name:        "censor kept when stricter action wins",
			cfg:         Config{SpamWords: []string{"casino"}, SpamAction: ActionFlag, ProfanityWords: []string{"darn"}, ProfanityAction: ActionCensor},
			body:        "darn casino",
			wantSpam:    true,
			wantProfane: true,
			wantAction:  ActionFlag,
			wantBody:    "**** casino",
		},
		{
			name:       "spam censor masks keyword",
			cfg:        Config{SpamWords: []string{"casino"}, SpamAction: ActionCensor, ProfanityAction: ActionCensor},
			body:       "visit Casino",
			wantSpam:   true,
			wantAction: ActionCensor,
			wantBody:   "visit ******",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newClassifier(t, tt.cfg).Classify(context.Background(), tt.body)
			if res.IsSpam != tt.wantSpam {
				t.Errorf("IsSpam = %v, want %v", res.IsSpam, tt.wantSpam)
			}
			if res.IsProfane != tt.wantProfane {
				t.Errorf("IsProfane = %v, want %v", res.IsProfane, tt.wantProfane)
			}
			if res.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", res.Action, tt.wantAction)
			}
			if res.CensoredBody != tt.wantBody {
				t.Errorf("CensoredBody = %q, want %q", res.CensoredBody, tt.wantBody)
			}
		})
	}
}

func TestSpamReason(t *testing.T) {
	c := newClassifier(t, Config{SpamWords: []string{"casino"}, SpamAction: ActionHide, ProfanityAction: ActionCensor})
	res := c.Classify(context.Background(), "best CASINO bonus")
	if res.SpamReason != "contains spam keyword: casino" {
		t.Errorf("SpamReason = %q", res.SpamReason)
	}
}

func TestCensorPreservesLength(t *testing.T) {
	words := []string{"darn", "ÄRGER", "heck"}
	bodies := []string{
		"darn",
		"Well DaRn, what the heck",
		"ärger über Ärger",
		"darndarn heckheck",
		"İstanbul darn 🙂 heck",
		"no match here",
	}
	for _, body := range bodies {
		out := Censor(body, words)
		if utf8.RuneCountInString(out) != utf8.RuneCountInString(body) {
			t.Errorf("Censor(%q) = %q changes rune length", body, out)
		}
		lowered := string(lowerRunes(out))
		for _, w := range words {
			if strings.Contains(lowered, string(lowerRunes(w))) {
				t.Errorf("Censor(%q) = %q still contains %q", body, out, w)
			}
		}
	}
}

func TestDetectors(t *testing.T) {
	ctx := context.Background()
	cfg := Config{SpamAction: ActionHide, ProfanityAction: ActionCensor}

	spammy := FuncDetector(func(context.Context, string) (Verdict, error) {
		return Verdict{Spam: true, Reason: "link farm"}, nil
	})
	res := newClassifier(t, cfg, NopDetector{}, spammy).Classify(ctx, "hello")
	if !res.IsSpam || res.SpamReason != "link farm" || res.Action != ActionHide {
		t.Errorf("detector verdict ignored: %+v", res)
	}

	// 检测器与词表任一命中即为垃圾
	wordCfg := cfg
	wordCfg.SpamWords = []string{"casino"}
	res = newClassifier(t, wordCfg, NopDetector{}).Classify(ctx, "casino")
	if !res.IsSpam {
		t.Error("word list match ignored when a detector is configured")
	}
}

func TestFailingDetectorIsNoSignal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := logger.NewZapLogger(zap.New(core))

	failing := FuncDetector(func(context.Context, string) (Verdict, error) {
		return Verdict{}, errors.New("connection refused")
	})
	panicking := FuncDetector(func(context.Context, string) (Verdict, error) {
		panic("boom")
	})
	slow := FuncDetector(func(ctx context.Context, _ string) (Verdict, error) {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	})

	c, err := New(Config{SpamAction: ActionDelete, ProfanityAction: ActionCensor, DetectorTimeout: 20 * time.Millisecond},
		log, failing, panicking, slow)
	if err != nil {
		t.Fatal(err)
	}
	res := c.Classify(context.Background(), "ordinary text")
	if res.IsSpam || res.Action != ActionNone {
		t.Errorf("failing detectors produced a signal: %+v", res)
	}
	if n := logs.Len(); n != 3 {
		t.Errorf("logged %d detector failures, want 3", n)
	}
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.Contains(req.Content, "http://") {
			_ = json.NewEncoder(w).Encode(Verdict{Spam: true, Reason: "contains links"})
			return
		}
		_ = json.NewEncoder(w).Encode(Verdict{})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, time.Second)
	v, err := d.Detect(context.Background(), "see http://example.com")
	if err != nil || !v.Spam || v.Reason != "contains links" {
		t.Errorf("Detect = %+v, %v", v, err)
	}
	v, err = d.Detect(context.Background(), "plain")
	if err != nil || v.Spam {
		t.Errorf("Detect(plain) = %+v, %v", v, err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	if _, err := NewHTTPDetector(broken.URL, time.Second).Detect(context.Background(), "x"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestNewRejectsUnknownAction(t *testing.T) {
	if _, err := New(Config{SpamAction: "shout", ProfanityAction: ActionCensor}, logger.NewNop()); err == nil {
		t.Error("expected error for unknown spam action")
	}
}

func TestStricter(t *testing.T) {
	order := []string{ActionNone, ActionCensor, ActionFlag, ActionHide, ActionDelete}
	for i := range order {
		for j := range order {
			want := order[i]
			if j > i {
				want = order[j]
			}
			if got := Stricter(order[i], order[j]); got != want {
				t.Errorf("Stricter(%q, %q) = %q, want %q", order[i], order[j], got, want)
			}
		}
	}
}
