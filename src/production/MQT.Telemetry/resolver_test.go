package telemetry

import (
	"fmt"
	"testing"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func payload(t *testing.T, body string) Payload {
	t.Helper()
	p, err := DecodePayload([]byte(body))
	require.NoError(t, err)
	return p
}

func TestResolverStrategyOrder(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))
	require.Equal(t, []string{SourceTs, SourceTimestamp, SourceEndTime, SourceRunBaseDt, SourceNow}, r.Strategies())
}

func TestParseInstantRoundTrip(t *testing.T) {
	want := time.Date(2024, 6, 1, 12, 30, 45, 123_000_000, time.UTC)

	cases := map[string]any{
		"rfc3339 zulu":        "2024-06-01T12:30:45.123Z",
		"offset":              "2024-06-01T14:30:45.123+02:00",
		"naive is utc":        "2024-06-01T12:30:45.123",
		"space separator":     "2024-06-01 12:30:45.123",
		"epoch seconds float": float64(want.UnixMilli()) / 1000,
		"epoch millis number": float64(want.UnixMilli()),
		"epoch millis string": "1717245045123",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseInstant(in)
			require.True(t, ok)
			require.WithinDuration(t, want, got, time.Millisecond)
		})
	}

	got, ok := ParseInstant("1717245045")
	require.True(t, ok)
	require.Equal(t, want.Truncate(time.Second), got)
}

func TestParseInstantRejectsGarbage(t *testing.T) {
	for _, in := range []any{nil, "", "yesterday", true, map[string]any{}} {
		_, ok := ParseInstant(in)
		require.False(t, ok, "%v", in)
	}
}

func TestResolvePrefersTsThenTimestampThenEndTime(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))

	res := r.Resolve(payload(t, `{"ts":"2024-01-01T00:00:00Z","timestamp":"2024-02-01T00:00:00Z"}`), nil)
	require.Equal(t, SourceTs, res.Source)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), res.Ts)

	res = r.Resolve(payload(t, `{"timestamp":"2024-02-01T00:00:00Z","end_time":1700000000}`), nil)
	require.Equal(t, SourceTimestamp, res.Source)

	res = r.Resolve(payload(t, `{"end_time":1700000000}`), nil)
	require.Equal(t, SourceEndTime, res.Source)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), res.Ts)
}

func TestResolveInvalidFallsThrough(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))

	// 1999 is before the validity floor; the chain moves on to end_time.
	res := r.Resolve(payload(t, `{"ts":"1999-12-31T23:59:59Z","end_time":"2024-01-01T00:00:00Z"}`), nil)
	require.Equal(t, SourceEndTime, res.Source)

	res = r.Resolve(payload(t, `{"ts":"1970-01-01T00:00:10Z","dt":"n/a"}`), nil)
	require.Equal(t, SourceNow, res.Source)
	require.Equal(t, fixedNow, res.Ts)
	require.Zero(t, res.DtMs)
}

func TestResolveNeverBefore2000(t *testing.T) {
	clock := clockwork.NewFakeClockAt(fixedNow)
	r := NewResolver(clock)
	base := &mqtmodels.Run{DeviceID: "dev-1", BaseTs: time.Unix(0, 0).UTC()}

	inputs := []string{
		`{}`,
		`{"ts":0}`,
		`{"ts":-5}`,
		`{"timestamp":"0001-01-01T00:00:00Z"}`,
		`{"end_time":946684799}`,
		`{"dt":1500}`,
	}
	for _, in := range inputs {
		res := r.Resolve(payload(t, in), base)
		require.False(t, res.Ts.Before(MinValidInstant), in)
	}

	res := r.Resolve(payload(t, `{"ts":946684800}`), nil)
	require.Equal(t, SourceTs, res.Source)
	require.Equal(t, MinValidInstant, res.Ts)
}

func TestResolveRejectsInstantsPastYear9999(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))

	res := r.Resolve(payload(t, `{"ts":253402300800,"end_time":"2024-01-01T00:00:00Z"}`), nil)
	require.Equal(t, SourceEndTime, res.Source)

	res = r.Resolve(payload(t, `{"timestamp":"10000-01-01T00:00:00Z"}`), nil)
	require.Equal(t, SourceNow, res.Source)
	require.Equal(t, fixedNow, res.Ts)

	require.True(t, ValidInstant(MaxValidInstant))
	require.False(t, ValidInstant(MaxValidInstant.Add(time.Nanosecond)))
}

func TestResolveOversizedDtDisablesRunBase(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))
	run := &mqtmodels.Run{DeviceID: "dev-1", BaseTs: time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)}

	res := r.Resolve(payload(t, `{"dt":1e19}`), run)
	require.Equal(t, SourceNow, res.Source)
	require.Zero(t, res.DtMs)

	res = r.Resolve(payload(t, fmt.Sprintf(`{"dt":%.0f}`, MaxDtMs)), run)
	require.Equal(t, SourceRunBaseDt, res.Source)
	require.Equal(t, MaxDtMs, res.DtMs)
	require.True(t, res.Ts.After(run.BaseTs))
}

func TestResolveFromRunBaseAndDt(t *testing.T) {
	r := NewResolver(clockwork.NewFakeClockAt(fixedNow))
	t0 := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	run := &mqtmodels.Run{DeviceID: "dev-1", BaseTs: t0}

	res := r.Resolve(payload(t, `{"dt":1500}`), run)
	require.Equal(t, SourceRunBaseDt, res.Source)
	require.Equal(t, t0.Add(1500*time.Millisecond), res.Ts)
	require.Equal(t, 1500.0, res.DtMs)

	// No run base known: falls to now.
	res = r.Resolve(payload(t, `{"dt":1500}`), nil)
	require.Equal(t, SourceNow, res.Source)

	// Negative dt disables the rule and is stored as zero.
	res = r.Resolve(payload(t, `{"dt":-3}`), run)
	require.Equal(t, SourceNow, res.Source)
	require.Zero(t, res.DtMs)
}

func TestParseDt(t *testing.T) {
	cases := []struct {
		body string
		want float64
		ok   bool
	}{
		{`{"dt":250}`, 250, true},
		{`{"dt":"250"}`, 250, true},
		{`{"dt":0}`, 0, true},
		{`{"dt":-1}`, 0, false},
		{`{"dt":1e19}`, 0, false},
		{`{"dt":"abc"}`, 0, false},
		{`{"dt":true}`, 0, false},
		{`{"dt":null}`, 0, false},
		{`{}`, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseDt(payload(t, tc.body))
		require.Equal(t, tc.ok, ok, tc.body)
		require.Equal(t, tc.want, got, tc.body)
	}
}

func TestDecodePayloadRejectsNonObjects(t *testing.T) {
	for _, body := range []string{`[]`, `null`, `42`, `{"a":`, ``} {
		_, err := DecodePayload([]byte(body))
		require.ErrorIs(t, err, ErrMalformedMessage, body)
	}
}
