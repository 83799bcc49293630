package pipeline

import (
	"reflect"
	"testing"

	"github.com/artemmail/scriptor-sub002/internal/docgen"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
)

func TestStepKindsFromEmbeddedSpec(t *testing.T) {
	cases := []struct {
		kind types.JobKind
		want []string
	}{
		{types.JobKindYoutubeCaption, []string{"probe", "fetch_captions", "compose"}},
		{types.JobKindAudioTranscription, []string{"probe", "fetch_audio", "recognize", "compose"}},
		{types.JobKindOpenAITranscription, []string{"probe", "fetch_audio", "recognize", "compose"}},
	}
	for _, tc := range cases {
		got := StepKinds(nil, tc.kind)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("StepKinds(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestOutputFormatPerKind(t *testing.T) {
	if f := OutputFormat(nil, types.JobKindYoutubeCaption); f != docgen.FormatSRT {
		t.Fatalf("youtube_caption format = %s, want srt", f)
	}
	if f := OutputFormat(nil, types.JobKindAudioTranscription); f != docgen.FormatMarkdown {
		t.Fatalf("audio_transcription format = %s, want markdown", f)
	}
	if f := OutputFormat(nil, types.JobKind("bogus")); f != docgen.FormatText {
		t.Fatalf("unknown kind format = %s, want text", f)
	}
}

func TestSegmentWindowSecPerKind(t *testing.T) {
	if w := SegmentWindowSec(nil, types.JobKindAudioTranscription); w != 60 {
		t.Fatalf("audio_transcription window = %v, want 60", w)
	}
	if w := SegmentWindowSec(nil, types.JobKindOpenAITranscription); w != 120 {
		t.Fatalf("openai_transcription window = %v, want 120", w)
	}
	if w := SegmentWindowSec(nil, types.JobKind("bogus")); w != 60 {
		t.Fatalf("unknown kind window = %v, want 60", w)
	}
}

func TestValidatePipelineSpec(t *testing.T) {
	valid := func() *yamlPipelineSpec {
		return &yamlPipelineSpec{
			Pipelines: "transcription",
			Version:   1,
			Kinds: []yamlKindSpec{
				{Kind: "youtube_caption", Steps: []yamlStepSpec{{Name: "probe"}, {Name: "compose"}}},
			},
		}
	}

	if err := validatePipelineSpec(valid()); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	s := valid()
	s.Pipelines = "other"
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for wrong pipeline group")
	}

	s = valid()
	s.Kinds = nil
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for empty kinds")
	}

	s = valid()
	s.Kinds = append(s.Kinds, s.Kinds[0])
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for duplicate kind")
	}

	s = valid()
	s.Kinds[0].Steps = nil
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for kind without steps")
	}

	s = valid()
	s.Kinds[0].Steps = []yamlStepSpec{{Name: "probe"}, {Name: "probe"}}
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for duplicate step")
	}

	s = valid()
	s.Kinds[0].SegmentWindowSec = -1
	if err := validatePipelineSpec(s); err == nil {
		t.Fatal("expected error for negative segment window")
	}
}

func TestLoadPipelineRuntimeFromEmbedded(t *testing.T) {
	rt, err := loadPipelineRuntime()
	if err != nil {
		t.Fatalf("load embedded spec: %v", err)
	}
	if len(rt.Kinds) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(rt.Kinds))
	}
	for _, kind := range types.KnownJobKinds {
		if _, ok := rt.Kinds[kind]; !ok {
			t.Fatalf("embedded spec missing kind %s", kind)
		}
	}
}
