package speech

import (
	"fmt"
	"reflect"
	"testing"
)

func TestResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "empty voice", voice: "", want: []string{resourceDefault, resourceSeed}},
		{name: "clone voice", voice: "S_clone_speaker", want: []string{resourceMega}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{resourceSeed, resourceDefault}},
		{name: "legacy voice", voice: "en_male_classic", want: []string{resourceDefault, resourceSeed}},
	}
	for _, tt := range tests {
		if got := resourceCandidates(tt.voice); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		fallback  string
		want      []string
	}{
		{name: "request and fallback", requested: "voice-a", fallback: "voice-b", want: []string{"voice-a", "voice-b"}},
		{name: "empty request", requested: "", fallback: "voice-b", want: []string{"voice-b"}},
		{name: "no fallback configured", requested: "", fallback: "", want: []string{DefaultVoice}},
		{name: "duplicates ignored", requested: "EN_voice", fallback: "en_voice", want: []string{"EN_voice"}},
		{name: "language alias", requested: "en-US", fallback: "voice-b", want: []string{DefaultVoice, "voice-b"}},
	}
	for _, tt := range tests {
		if got := speakerCandidates(tt.requested, tt.fallback); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: speakerCandidates(%q, %q) = %v, want %v", tt.name, tt.requested, tt.fallback, got, tt.want)
		}
	}
}

func TestIsResourceMismatch(t *testing.T) {
	if isResourceMismatch(nil) {
		t.Error("nil error must not match")
	}
	if isResourceMismatch(fmt.Errorf("other")) {
		t.Error("unrelated error must not match")
	}
	if !isResourceMismatch(fmt.Errorf(`tts error 3001: {"error":"resource ID is mismatched with speaker related resource"}`)) {
		t.Error("mismatch error should match")
	}
}
