package pipeline

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/artemmail/scriptor-sub002/internal/docgen"
	types "github.com/artemmail/scriptor-sub002/internal/domain"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

const pipelineSpecEnv = "TRANSCRIPTION_PIPELINE_YAML"

//go:embed pipelines.yaml
var pipelineSpecFS embed.FS

// fallback definitions used when YAML is missing or invalid
var fallbackKindSteps = map[types.JobKind][]string{
	types.JobKindYoutubeCaption:      {"probe", "fetch_captions", "compose"},
	types.JobKindAudioTranscription:  {"probe", "fetch_audio", "recognize", "compose"},
	types.JobKindOpenAITranscription: {"probe", "fetch_audio", "recognize", "compose"},
}

var fallbackKindFormat = map[types.JobKind]docgen.Format{
	types.JobKindYoutubeCaption:      docgen.FormatSRT,
	types.JobKindAudioTranscription:  docgen.FormatMarkdown,
	types.JobKindOpenAITranscription: docgen.FormatMarkdown,
}

var fallbackSegmentWindow = map[types.JobKind]float64{
	types.JobKindAudioTranscription:  60,
	types.JobKindOpenAITranscription: 120,
}

type yamlPipelineSpec struct {
	Pipelines string         `yaml:"pipelines"`
	Version   int            `yaml:"version"`
	Kinds     []yamlKindSpec `yaml:"kinds"`
}

type yamlKindSpec struct {
	Kind             string         `yaml:"kind"`
	Steps            []yamlStepSpec `yaml:"steps"`
	OutputFormat     string         `yaml:"output_format"`
	SegmentWindowSec float64        `yaml:"segment_window_sec"`
}

type yamlStepSpec struct {
	Name string `yaml:"name"`
}

type pipelineRuntime struct {
	Kinds map[types.JobKind]yamlKindSpec
}

var runtimeOnce sync.Once
var runtimeCache *pipelineRuntime
var runtimeErr error

func currentPipelineRuntime(log *logger.Logger) *pipelineRuntime {
	runtimeOnce.Do(func() {
		runtimeCache, runtimeErr = loadPipelineRuntime()
	})
	if runtimeErr != nil {
		if log != nil {
			log.Warn("pipeline spec load failed; using fallback", "error", runtimeErr)
		}
		return nil
	}
	return runtimeCache
}

// StepKinds returns the declared step order for a job kind.
func StepKinds(log *logger.Logger, kind types.JobKind) []string {
	if rt := currentPipelineRuntime(log); rt != nil {
		if spec, ok := rt.Kinds[kind]; ok && len(spec.Steps) > 0 {
			out := make([]string, 0, len(spec.Steps))
			for _, s := range spec.Steps {
				out = append(out, s.Name)
			}
			return out
		}
	}
	return fallbackKindSteps[kind]
}

// OutputFormat returns the result document format for a job kind.
func OutputFormat(log *logger.Logger, kind types.JobKind) docgen.Format {
	if rt := currentPipelineRuntime(log); rt != nil {
		if spec, ok := rt.Kinds[kind]; ok && spec.OutputFormat != "" {
			return docgen.Format(spec.OutputFormat)
		}
	}
	if f, ok := fallbackKindFormat[kind]; ok {
		return f
	}
	return docgen.FormatText
}

// SegmentWindowSec returns the audio chunk length for a job kind.
func SegmentWindowSec(log *logger.Logger, kind types.JobKind) float64 {
	if rt := currentPipelineRuntime(log); rt != nil {
		if spec, ok := rt.Kinds[kind]; ok && spec.SegmentWindowSec > 0 {
			return spec.SegmentWindowSec
		}
	}
	if w, ok := fallbackSegmentWindow[kind]; ok {
		return w
	}
	return 60
}

func loadPipelineRuntime() (*pipelineRuntime, error) {
	data, err := readPipelineSpec()
	if err != nil {
		return nil, err
	}

	var spec yamlPipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := validatePipelineSpec(&spec); err != nil {
		return nil, err
	}

	kinds := make(map[types.JobKind]yamlKindSpec, len(spec.Kinds))
	for _, k := range spec.Kinds {
		kinds[types.JobKind(k.Kind)] = k
	}
	return &pipelineRuntime{Kinds: kinds}, nil
}

func readPipelineSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(pipelineSpecEnv)); path != "" {
		return os.ReadFile(path)
	}
	return pipelineSpecFS.ReadFile("pipelines.yaml")
}

func validatePipelineSpec(spec *yamlPipelineSpec) error {
	if spec == nil {
		return errors.New("missing spec")
	}
	if strings.TrimSpace(spec.Pipelines) != "transcription" {
		return fmt.Errorf("unexpected pipeline group: %s", spec.Pipelines)
	}
	if len(spec.Kinds) == 0 {
		return errors.New("no kinds defined")
	}
	seen := map[string]bool{}
	for _, k := range spec.Kinds {
		name := strings.TrimSpace(k.Kind)
		if name == "" {
			return errors.New("kind name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate kind: %s", name)
		}
		seen[name] = true
		if len(k.Steps) == 0 {
			return fmt.Errorf("kind %s: no steps defined", name)
		}
		stepSeen := map[string]bool{}
		for _, s := range k.Steps {
			sn := strings.TrimSpace(s.Name)
			if sn == "" {
				return fmt.Errorf("kind %s: step name is required", name)
			}
			if stepSeen[sn] {
				return fmt.Errorf("kind %s: duplicate step %s", name, sn)
			}
			stepSeen[sn] = true
		}
		if k.SegmentWindowSec < 0 {
			return fmt.Errorf("kind %s: segment_window_sec must be positive", name)
		}
	}
	return nil
}
