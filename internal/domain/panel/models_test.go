package panel_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/kr/pretty"

	"botpanel/internal/domain/panel"
)

func TestParseChannels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want []string
	}{
		{name: "blankLinesDropped", text: "a\nb\n\nc", want: []string{"a", "b", "c"}},
		{name: "crlfFromBrowser", text: "@one\r\n@two\r\n", want: []string{"@one", "@two"}},
		{name: "empty", text: "", want: []string{}},
		{name: "onlyBlanks", text: "\n \n\n", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := panel.ParseChannels(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseChannels(%q) = %#v, want %#v", tc.text, got, tc.want)
			}
		})
	}
}

func TestConfigurationSetLastWriteWins(t *testing.T) {
	t.Parallel()

	cfg := panel.Configuration{IntervalMinutes: 5, SourceChannels: []string{"old"}}
	for _, step := range []struct {
		key   string
		value any
	}{
		{panel.KeyIntervalMinutes, 10},
		{panel.KeyTargetChannel, "@first"},
		{panel.KeyIntervalMinutes, 15},
		{panel.KeyTargetChannel, "@second"},
		{panel.KeySourceChannels, []string{"a", "b"}},
		{panel.KeyIsActive, true},
	} {
		if err := cfg.Set(step.key, step.value); err != nil {
			t.Fatalf("Set(%s) error = %v", step.key, err)
		}
	}

	want := panel.Configuration{
		IntervalMinutes: 15,
		TargetChannel:   "@second",
		SourceChannels:  []string{"a", "b"},
		IsActive:        true,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("config mismatch: %v", pretty.Diff(cfg, want))
	}
}

func TestConfigurationSetRejects(t *testing.T) {
	t.Parallel()

	var cfg panel.Configuration
	if err := cfg.Set("admin_password", "x"); !errors.Is(err, panel.ErrUnknownField) {
		t.Fatalf("unknown key error = %v", err)
	}
	if err := cfg.Set(panel.KeyAddFee, "12"); !errors.Is(err, panel.ErrFieldType) {
		t.Fatalf("type mismatch error = %v", err)
	}
	if !reflect.DeepEqual(cfg, panel.Configuration{}) {
		t.Fatalf("rejected writes modified config: %# v", pretty.Formatter(cfg))
	}
}

func TestConvertFieldText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key     string
		text    string
		want    any
		wantErr bool
	}{
		{key: panel.KeyIntervalMinutes, text: " 0 ", want: 0},
		{key: panel.KeyAddFee, text: "-40", want: -40},
		{key: panel.KeyAPIID, text: "12a", wantErr: true},
		{key: panel.KeyIsActive, text: "on", want: true},
		{key: panel.KeyIsActive, text: "false", want: false},
		{key: panel.KeyIsActive, text: "maybe", wantErr: true},
		{key: panel.KeySourceChannels, text: "x\n\ny", want: []string{"x", "y"}},
		{key: panel.KeyGeminiAPIKey, text: "k-1", want: "k-1"},
		{key: "nope", text: "1", wantErr: true},
	}

	for _, tc := range cases {
		got, err := panel.ConvertFieldText(tc.key, tc.text)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ConvertFieldText(%s, %q) expected error, got %#v", tc.key, tc.text, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ConvertFieldText(%s, %q) error = %v", tc.key, tc.text, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ConvertFieldText(%s, %q) = %#v, want %#v", tc.key, tc.text, got, tc.want)
		}
	}
}

func TestConfigurationJSONFieldOrder(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(panel.Configuration{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"api_id":0,"api_hash":"","phone_number":"","source_channels":null,"target_channel":"","add_fee":0,"gemini_api_key":"","is_active":false,"interval_minutes":0}`
	if string(data) != want {
		t.Fatalf("json = %s\nwant %s", data, want)
	}
}

func TestPresentationDefaults(t *testing.T) {
	t.Parallel()

	if got := panel.BotState("paused").Badge(); got.Label != "PAUSED" || got.Class != "badge-unknown" {
		t.Fatalf("unknown bot state badge = %+v", got)
	}
	if got := panel.BotActive.Badge().Label; got != "ACTIVE" {
		t.Fatalf("active label = %q", got)
	}
	if got := panel.HistoryStatus("warning").Icon().Class; got != "hist-unknown" {
		t.Fatalf("unknown history icon class = %q", got)
	}
	for _, s := range []panel.HistoryStatus{panel.HistorySuccess, panel.HistoryError, panel.HistoryInfo} {
		if s.Icon().Class == "hist-unknown" {
			t.Fatalf("known status %q fell through to default", s)
		}
	}

	states := map[string]panel.LoginState{
		"logged_in":  panel.LoginLoggedIn,
		"not_logged": panel.LoginLoggedOut,
		"weird":      panel.LoginUnknown,
		"":           panel.LoginUnknown,
	}
	for raw, want := range states {
		if got := panel.ParseLoginState(raw); got != want {
			t.Fatalf("ParseLoginState(%q) = %q, want %q", raw, got, want)
		}
	}
}
