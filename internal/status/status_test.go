package status

import (
	"encoding/json"
	"testing"
)

func TestParseProfile(t *testing.T) {
	for _, p := range Profiles {
		got, ok := ParseProfile(string(p))
		if !ok || got != p {
			t.Fatalf("ParseProfile(%q) = %q, %v", p, got, ok)
		}
	}
	if _, ok := ParseProfile("atlantis"); ok {
		t.Fatal("unknown profile accepted")
	}
	if _, ok := ParseProfile(""); ok {
		t.Fatal("empty profile accepted")
	}
}

func TestApplyIntentOmitsAbsentFields(t *testing.T) {
	on := true
	data, err := json.Marshal(ApplyIntent{WG0Enabled: &on})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"wg0_enabled":true}` {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var in ApplyIntent
	if err := json.Unmarshal([]byte(`{"ss_profile":"sg"}`), &in); err != nil {
		t.Fatal(err)
	}
	if in.WG0Enabled != nil || in.SSEnabled != nil {
		t.Fatal("absent fields must stay nil")
	}
	if in.SSProfile == nil || *in.SSProfile != ProfileSG {
		t.Fatalf("ss_profile = %v", in.SSProfile)
	}
	if in.Empty() {
		t.Fatal("intent with a profile is not empty")
	}
	if !(ApplyIntent{}).Empty() {
		t.Fatal("zero intent should be empty")
	}
}

func TestStatusEnvelope(t *testing.T) {
	frame, err := StatusEnvelope(SystemStatus{
		WG0: TunnelState{Active: true},
		SS:  TunnelState{Active: false, Profile: "jp"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != MsgStatus {
		t.Fatalf("type = %q", env.Type)
	}
	var snap SystemStatus
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.WG0.Active || snap.SS.Profile != "jp" {
		t.Fatalf("snapshot round trip: %+v", snap)
	}
}
