package dispatch

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func fixedPacing(d time.Duration) PacingConfig { return PacingConfig{Mode: PacingFixed, Fixed: d} }

func TestBuildOrdersRecipientMajor(t *testing.T) {
	t.Parallel()

	cfg := DispatchConfig{
		Recipients: []string{"+1", " +2 ", "+1"},
		Assignments: []Assignment{
			{ProfileID: "alpha", Payload: Payload{Text: "hi"}},
			{ProfileID: "beta", Payload: Payload{ImageRef: "/tmp/a.png"}},
		},
		Pacing: fixedPacing(0),
	}
	tasks, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var got [][2]string
	for _, tk := range tasks {
		got = append(got, [2]string{tk.Recipient, tk.ProfileID})
	}
	want := [][2]string{
		{"+1", "alpha"}, {"+1", "beta"},
		{"+2", "alpha"}, {"+2", "beta"},
		{"+1", "alpha"}, {"+1", "beta"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch:\n got=%v\nwant=%v", got, want)
	}
	if tasks[1].Payload.ImageRef != "/tmp/a.png" {
		t.Fatalf("payload not carried: %+v", tasks[1])
	}
}

func TestBuildReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		cfg   DispatchConfig
		check func(t *testing.T, v *ValidationError)
	}{
		{
			name: "no recipients",
			cfg: DispatchConfig{
				Assignments: []Assignment{{ProfileID: "a", Payload: Payload{Text: "x"}}},
				Pacing:      fixedPacing(0),
			},
			check: func(t *testing.T, v *ValidationError) {
				if !v.NoRecipients {
					t.Fatalf("expected NoRecipients")
				}
			},
		},
		{
			name: "no profiles",
			cfg:  DispatchConfig{Recipients: []string{"+1"}, Pacing: fixedPacing(0)},
			check: func(t *testing.T, v *ValidationError) {
				if !v.NoProfiles {
					t.Fatalf("expected NoProfiles")
				}
			},
		},
		{
			name: "every empty payload listed",
			cfg: DispatchConfig{
				Recipients: []string{"+1"},
				Assignments: []Assignment{
					{ProfileID: "a", Payload: Payload{Text: "  "}},
					{ProfileID: "b", Payload: Payload{Text: "ok"}},
					{ProfileID: "c"},
				},
				Pacing: fixedPacing(0),
			},
			check: func(t *testing.T, v *ValidationError) {
				if !reflect.DeepEqual(v.EmptyPayloadProfiles, []string{"a", "c"}) {
					t.Fatalf("EmptyPayloadProfiles=%v", v.EmptyPayloadProfiles)
				}
			},
		},
		{
			name: "duplicate profile and blank recipient",
			cfg: DispatchConfig{
				Recipients: []string{"+1", " "},
				Assignments: []Assignment{
					{ProfileID: "a", Payload: Payload{Text: "x"}},
					{ProfileID: "a", Payload: Payload{Text: "y"}},
				},
				Pacing: fixedPacing(0),
			},
			check: func(t *testing.T, v *ValidationError) {
				if !reflect.DeepEqual(v.DuplicateProfiles, []string{"a"}) {
					t.Fatalf("DuplicateProfiles=%v", v.DuplicateProfiles)
				}
				if !reflect.DeepEqual(v.BlankRecipients, []int{1}) {
					t.Fatalf("BlankRecipients=%v", v.BlankRecipients)
				}
			},
		},
		{
			name: "bad pacing",
			cfg: DispatchConfig{
				Recipients:  []string{"+1"},
				Assignments: []Assignment{{ProfileID: "a", Payload: Payload{Text: "x"}}},
				Pacing:      PacingConfig{Mode: PacingRandom, Min: 10 * time.Second, Max: time.Second},
			},
			check: func(t *testing.T, v *ValidationError) {
				if v.Pacing == nil {
					t.Fatalf("expected pacing error")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tasks, err := Build(tc.cfg)
			if tasks != nil {
				t.Fatalf("expected no tasks, got %d", len(tasks))
			}
			var v *ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("expected *ValidationError, got %T %v", err, err)
			}
			tc.check(t, v)
		})
	}
}

func TestParseRecipients(t *testing.T) {
	t.Parallel()

	in := "  +111 \n\n# comment\n+222\r\n+111\n   \n"
	got := ParseRecipients(in)
	want := []string{"+111", "+222", "+111"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	if got := ParseRecipients(""); len(got) != 0 {
		t.Fatalf("empty input: %v", got)
	}
}
