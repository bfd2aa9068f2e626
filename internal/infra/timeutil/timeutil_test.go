package timeutil_test

import (
	"testing"
	"time"

	"botpanel/internal/infra/timeutil"
)

func TestFormatBackendTime(t *testing.T) {
	t.Parallel()

	istanbul := time.FixedZone("UTC+03:00", 3*60*60)

	cases := []struct {
		name  string
		value string
		loc   *time.Location
		want  string
	}{
		{name: "sqliteUTC", value: "2024-03-01 10:15:00", loc: istanbul, want: "01.03.2024 13:15:00"},
		{name: "rfc3339", value: "2024-03-01T10:15:00Z", loc: time.UTC, want: "01.03.2024 10:15:00"},
		{name: "nilLocation", value: "2024-03-01T10:15:00", loc: nil, want: "01.03.2024 10:15:00"},
		{name: "garbageKeptVerbatim", value: "yesterday", loc: time.UTC, want: "yesterday"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := timeutil.FormatBackendTime(tc.value, tc.loc); got != tc.want {
				t.Fatalf("FormatBackendTime(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value      string
		wantOffset int
		wantErr    bool
	}{
		{value: "UTC", wantOffset: 0},
		{value: "+03:00", wantOffset: 3 * 3600},
		{value: "GMT-04:30", wantOffset: -(4*3600 + 30*60)},
		{value: "UTC+3", wantOffset: 3 * 3600},
		{value: "Mars/Olympus", wantErr: true},
		{value: "", wantErr: true},
	}

	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		loc, err := timeutil.ParseLocation(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLocation(%q) expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseLocation(%q) unexpected error: %v", tc.value, err)
		}
		if _, off := ref.In(loc).Zone(); off != tc.wantOffset {
			t.Fatalf("ParseLocation(%q) offset = %d, want %d", tc.value, off, tc.wantOffset)
		}
	}
}

func TestNormalizeLogTimestamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value string
		want  string
	}{
		{name: "zapISO8601", value: "2024-03-01T13:15:00.123+0300", want: "01.03.2024 10:15:00"},
		{name: "zapUTC", value: "2024-03-01T10:15:00.000Z", want: "01.03.2024 10:15:00"},
		{name: "rfc3339", value: "2024-03-01T10:15:00+00:00", want: "01.03.2024 10:15:00"},
		{name: "empty", value: "", want: ""},
		{name: "garbage", value: "n/a", want: "n/a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := timeutil.NormalizeLogTimestamp(tc.value, time.UTC); got != tc.want {
				t.Fatalf("NormalizeLogTimestamp(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}
