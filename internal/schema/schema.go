// Package schema declares and validates the per-stage output schemas.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/ambitus/orchestrator/internal/domain"
)

var (
	once     sync.Once
	resolved map[domain.Stage]*jsonschema.Resolved
	initErr  error
)

func build() {
	resolved = make(map[domain.Stage]*jsonschema.Resolved, len(domain.Stages))
	add := func(stage domain.Stage, s *jsonschema.Schema, err error) {
		if initErr != nil {
			return
		}
		if err != nil {
			initErr = fmt.Errorf("schema for %s: %w", stage, err)
			return
		}
		r, err := s.Resolve(nil)
		if err != nil {
			initErr = fmt.Errorf("resolve schema for %s: %w", stage, err)
			return
		}
		resolved[stage] = r
	}

	s, err := jsonschema.For[domain.CompanyProfile](nil)
	add(domain.StageCompanyResearch, s, err)
	s, err = jsonschema.For[domain.DomainCandidateList](nil)
	add(domain.StageIndustryAnalysis, s, err)
	s, err = jsonschema.For[domain.MarketStats](nil)
	add(domain.StageMarketData, s, err)
	s, err = jsonschema.For[domain.CompetitorList](nil)
	add(domain.StageCompetitiveLandscape, s, err)
	s, err = jsonschema.For[domain.GapList](nil)
	add(domain.StageGapAnalysis, s, err)
	s, err = jsonschema.For[domain.OpportunityList](nil)
	add(domain.StageOpportunity, s, err)
	s, err = jsonschema.For[domain.ReportDocument](nil)
	add(domain.StageReportSynthesis, s, err)
}

// ForStage returns the resolved JSON schema for a stage's output.
func ForStage(stage domain.Stage) (*jsonschema.Resolved, error) {
	once.Do(build)
	if initErr != nil {
		return nil, initErr
	}
	r, ok := resolved[stage]
	if !ok {
		return nil, fmt.Errorf("no schema declared for stage %s", stage)
	}
	return r, nil
}

// Unmarshal unmarshals JSON into v, repairing malformed JSON once before
// giving up. LLM-backed agents routinely emit close-but-invalid JSON.
func Unmarshal(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// ValidateStageOutput checks raw agent output against the stage's schema.
// Malformed JSON is repaired before validation; irreparable or schema-invalid
// output yields a ValidationError. The returned bytes are the (possibly
// repaired) canonical output to record.
func ValidateStageOutput(stage domain.Stage, data []byte) (json.RawMessage, error) {
	r, err := ForStage(stage)
	if err != nil {
		return nil, err
	}

	var instance any
	if err := Unmarshal(data, &instance); err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   stage,
			Message: "output is not valid JSON",
			Err:     err,
		}
	}
	if err := r.Validate(instance); err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   stage,
			Message: err.Error(),
			Err:     err,
		}
	}

	canonical, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("re-encode output for %s: %w", stage, err)
	}
	return canonical, nil
}
