package testsupport

import (
	"context"
	"sync"

	"curator/internal/judge"
)

// FakeJudge is a scripted judge.Evaluator. Respond decides each reply; when
// nil every task succeeds with high scores.
type FakeJudge struct {
	Respond func(call int, req judge.Request) (judge.Response, error)

	mu    sync.Mutex
	calls map[judge.Task]int
	total int
}

// Evaluate records the call and delegates to Respond.
func (f *FakeJudge) Evaluate(ctx context.Context, req judge.Request) (judge.Response, error) {
	if err := ctx.Err(); err != nil {
		return judge.Response{}, err
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[judge.Task]int)
	}
	f.calls[req.Task]++
	f.total++
	call := f.total
	f.mu.Unlock()

	if f.Respond != nil {
		return f.Respond(call, req)
	}
	return GoodResponse(req), nil
}

// Calls returns how many times task was requested.
func (f *FakeJudge) Calls(task judge.Task) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

// Total returns the number of requests of any task.
func (f *FakeJudge) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// GoodResponse is a reply that lets every judge-backed stage continue.
func GoodResponse(req judge.Request) judge.Response {
	switch req.Task {
	case judge.TaskClassifyLanguage:
		return judge.Response{Result: "en"}
	case judge.TaskTranslate, judge.TaskStripPresentation:
		return judge.Response{Result: req.Payload}
	case judge.TaskCompareSimilarity:
		return judge.Response{Score: 9}
	case judge.TaskInferSymbols:
		return judge.Response{Result: "BTC/USDT, ETH", Score: 0.8}
	case judge.TaskScoreQuality:
		return judge.Response{
			Metrics: map[string]float64{
				"match": 9, "detail": 9, "clarity": 9, "code_quality": 9, "educational_value": 9,
			},
			Reasoning: "clear and complete",
		}
	}
	return judge.Response{}
}
