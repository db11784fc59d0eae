package clean

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed expectations.yaml
var expectationsYAML []byte

const maxSamples = 5

type Kind string

const (
	KindNotNull Kind = "not_null"
	KindInSet   Kind = "in_set"
	KindBetween Kind = "between"
)

// Expectation is a single data quality rule on one cleaned column.
type Expectation struct {
	Column string   `yaml:"column"`
	Kind   Kind     `yaml:"kind"`
	Values []string `yaml:"values,omitempty"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
}

type expectationsFile struct {
	Expectations []Expectation `yaml:"expectations"`
}

func (e Expectation) Validate() error {
	if e.Column == "" {
		return errors.New("expectation column is required")
	}
	switch e.Kind {
	case KindNotNull:
	case KindInSet:
		if len(e.Values) == 0 {
			return fmt.Errorf("expectation on %s: in_set requires values", e.Column)
		}
	case KindBetween:
		if e.Min == nil && e.Max == nil {
			return fmt.Errorf("expectation on %s: between requires min or max", e.Column)
		}
		if e.Min != nil && e.Max != nil && *e.Min > *e.Max {
			return fmt.Errorf("expectation on %s: min %v is greater than max %v", e.Column, *e.Min, *e.Max)
		}
	default:
		return fmt.Errorf("expectation on %s: unknown kind %q", e.Column, e.Kind)
	}
	return nil
}

func (e Expectation) String() string {
	switch e.Kind {
	case KindInSet:
		return fmt.Sprintf("%s in {%s}", e.Column, strings.Join(e.Values, ", "))
	case KindBetween:
		lo, hi := "-inf", "+inf"
		if e.Min != nil {
			lo = strconv.FormatFloat(*e.Min, 'f', -1, 64)
		}
		if e.Max != nil {
			hi = strconv.FormatFloat(*e.Max, 'f', -1, 64)
		}
		return fmt.Sprintf("%s between [%s, %s]", e.Column, lo, hi)
	default:
		return fmt.Sprintf("%s %s", e.Column, e.Kind)
	}
}

// expected reports whether a cleaned cell satisfies the expectation.
func (e Expectation) expected(value string) bool {
	switch e.Kind {
	case KindNotNull:
		return value != ""
	case KindInSet:
		return slices.Contains(e.Values, value)
	case KindBetween:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		if e.Min != nil && f < *e.Min {
			return false
		}
		if e.Max != nil && f > *e.Max {
			return false
		}
		return true
	}
	return false
}

// ParseExpectations decodes and validates an expectations document.
func ParseExpectations(data []byte) ([]Expectation, error) {
	var file expectationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse expectations: %w", err)
	}
	if len(file.Expectations) == 0 {
		return nil, errors.New("no expectations defined")
	}
	for _, e := range file.Expectations {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Expectations, nil
}

var defaultExpectations = sync.OnceValues(func() ([]Expectation, error) {
	return ParseExpectations(expectationsYAML)
})

// DefaultExpectations returns the embedded expectations.
func DefaultExpectations() ([]Expectation, error) {
	exps, err := defaultExpectations()
	if err != nil {
		return nil, err
	}
	return slices.Clone(exps), nil
}

// ExpectationResult is the outcome of one expectation over the whole dataset.
type ExpectationResult struct {
	Expectation Expectation `json:"-"`
	Rule        string      `json:"rule"`
	Evaluated   int         `json:"evaluated"`
	Unexpected  int         `json:"unexpected"`
	Samples     []string    `json:"samples,omitempty"`
}

func (r ExpectationResult) Success() bool {
	return r.Unexpected == 0
}

type evaluator struct {
	results []ExpectationResult
}

func newEvaluator(exps []Expectation) *evaluator {
	results := make([]ExpectationResult, len(exps))
	for i, e := range exps {
		results[i] = ExpectationResult{Expectation: e, Rule: e.String()}
	}
	return &evaluator{results: results}
}

func (ev *evaluator) observe(row map[string]string) {
	for i := range ev.results {
		res := &ev.results[i]
		value := row[res.Expectation.Column]
		res.Evaluated++
		if res.Expectation.expected(value) {
			continue
		}
		res.Unexpected++
		if len(res.Samples) < maxSamples && !slices.Contains(res.Samples, value) {
			res.Samples = append(res.Samples, value)
		}
	}
}
