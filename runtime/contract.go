package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-launcher/errors"
)

// Signature is a function signature declared in WIT.
type Signature struct {
	Params  []wit.Type
	Results []wit.Type
}

// Contract maps export names to their declared signatures.
type Contract map[string]Signature

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseContract extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func ParseContract(witText string) (Contract, error) {
	c := make(Contract)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		var sig Signature
		for _, p := range splitParams(paramsStr) {
			typStr := p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				typStr = p[idx+1:]
			}
			t, err := parseWitType(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseContract, errors.KindInvalidData, err, "parse param type "+typStr)
			}
			sig.Params = append(sig.Params, t)
		}

		if resultStr != "" && resultStr != "()" {
			parts := []string{resultStr}
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				parts = splitParams(resultStr[1 : len(resultStr)-1])
			}
			for _, part := range parts {
				t, err := parseWitType(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseContract, errors.KindInvalidData, err, "parse result type "+part)
				}
				sig.Results = append(sig.Results, t)
			}
		}

		c[name] = sig
	}

	if len(c) == 0 {
		return nil, errors.InvalidInput(errors.PhaseContract, "no functions found in WIT text")
	}
	return c, nil
}

// MustParseContract is like ParseContract but panics on error.
func MustParseContract(witText string) Contract {
	c, err := ParseContract(witText)
	if err != nil {
		panic(err)
	}
	return c
}

// CoreTypes lowers a signature to core wasm value types.
func (s Signature) CoreTypes() (params, results []api.ValueType, err error) {
	for _, t := range s.Params {
		vt, err := flatten(t)
		if err != nil {
			return nil, nil, err
		}
		params = append(params, vt...)
	}
	for _, t := range s.Results {
		vt, err := flatten(t)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, vt...)
	}
	return params, results, nil
}

func flatten(t wit.Type) ([]api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}, nil
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}, nil
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}, nil
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}, nil
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil
	}
	return nil, errors.InvalidInput(errors.PhaseContract, fmt.Sprintf("unsupported contract type %T", t))
}

// splitParams splits parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func parseWitType(s string) (wit.Type, error) {
	return wit.ParseType(strings.TrimSpace(s))
}
