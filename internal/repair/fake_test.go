package repair_test

import (
	"context"
	"encoding/json"
	"sync"

	"subflow/internal/services/llm"
)

// scriptedCaller replies with canned JSON in call order; the last reply
// repeats. Validators run the way the real client runs them.
type scriptedCaller struct {
	mu        sync.Mutex
	replies   []string
	errs      map[int]error
	prompts   []string
	overrides []*llm.Overrides
}

func (s *scriptedCaller) Call(_ context.Context, req llm.Request) (llm.Result, error) {
	s.mu.Lock()
	idx := len(s.prompts)
	s.prompts = append(s.prompts, req.Prompt)
	s.overrides = append(s.overrides, req.Overrides)
	s.mu.Unlock()

	if err := s.errs[idx]; err != nil {
		return llm.Result{}, err
	}
	reply := s.replies[min(idx, len(s.replies)-1)]
	var parsed any
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return llm.Result{}, err
	}
	if req.Validator != nil {
		if err := req.Validator(parsed); err != nil {
			return llm.Result{}, err
		}
	}
	return llm.Result{Raw: reply, Parsed: parsed}, nil
}

func (s *scriptedCaller) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
