package judge

import (
	"errors"
	"fmt"
	"strings"
)

const responseEnvelope = `Respond with a single JSON object only, no prose and no code fences.`

const classifyLanguagePrompt = `You identify the natural language of text.
The text is the description of a trading strategy script and may contain code identifiers.
Ignore identifiers, numbers, and code; judge the prose only.
` + responseEnvelope + `
Schema: {"result": "<BCP 47 language code such as en, zh, ru, es>", "score": <confidence 0-1>, "reasoning": "<one sentence>"}`

const translatePrompt = `You translate trading strategy descriptions.
Translate the text into the target language given in the request.
Keep indicator names, function names, numbers, and code identifiers unchanged.
Preserve paragraph breaks. Do not summarize or add commentary.
` + responseEnvelope + `
Schema: {"result": "<translated text>", "reasoning": "<optional note>"}`

const compareSimilarityPrompt = `You check whether a trading strategy description matches its source code.
Score from 0 to 10 how accurately and completely the description explains what the code does
(entry and exit logic, indicators, inputs, risk management).
When the score is below 6, also write an improved description grounded only in the code.
` + responseEnvelope + `
Schema: {"score": <0-10>, "reasoning": "<short justification>", "result": "<improved description or empty string>"}`

const scoreQualityPrompt = `You grade trading strategy records for a training corpus.
Rate each metric from 1 to 10:
- match: the description accurately explains the code
- detail: the description covers parameters, conditions, and behaviour in depth
- clarity: the description is well organized and easy to follow
- code_quality: the code is correct, readable, and idiomatic
- educational_value: a learner would understand the technique from this pair
` + responseEnvelope + `
Schema: {"metrics": {"match": n, "detail": n, "clarity": n, "code_quality": n, "educational_value": n}, "reasoning": "<two sentences>"}`

const stripPresentationPrompt = `You remove presentation-only code from trading strategy scripts.
Delete statements that only draw or decorate the chart (plots, shapes, labels, tables, boxes, lines, fills, background and bar colors)
and variables used solely by those statements.
Keep every calculation, input, and order, alert, or strategy call unchanged.
` + responseEnvelope + `
Schema: {"result": "<cleaned code>", "score": <number of removed lines>, "reasoning": "<short summary>"}`

const inferSymbolsPrompt = `You identify the trading instruments a strategy is meant for.
Use symbols the text names or strongly implies: stablecoins (USDT, USDC), cryptocurrencies (BTC, ETH, SOL),
pairs (BTC/USDT), currencies (USD, EUR), commodities (GOLD), indices and stocks.
List at most 5 uppercase symbols, most relevant first. Leave the list empty when nothing is implied.
Confidence is near 1 only when symbols are named explicitly.
` + responseEnvelope + `
Schema: {"result": "<comma-separated symbols or empty string>", "score": <confidence 0-1>, "reasoning": "<one sentence>"}`

func buildPrompt(req Request) (Prompt, error) {
	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		return Prompt{}, errors.New("payload required")
	}
	reference := strings.TrimSpace(req.Reference)
	switch req.Task {
	case TaskClassifyLanguage:
		return Prompt{System: classifyLanguagePrompt, User: payload}, nil
	case TaskTranslate:
		target := strings.TrimSpace(req.Params["target_language"])
		if target == "" {
			target = "en"
		}
		return Prompt{
			System: translatePrompt,
			User:   fmt.Sprintf("Target language: %s\n\nText:\n%s", target, payload),
		}, nil
	case TaskCompareSimilarity:
		if reference == "" {
			return Prompt{}, errors.New("reference code required")
		}
		return Prompt{
			System: compareSimilarityPrompt,
			User:   fmt.Sprintf("Description:\n%s\n\nCode:\n%s", payload, reference),
		}, nil
	case TaskScoreQuality:
		if reference == "" {
			return Prompt{}, errors.New("reference code required")
		}
		return Prompt{
			System: scoreQualityPrompt,
			User:   fmt.Sprintf("Description:\n%s\n\nCode:\n%s", payload, reference),
		}, nil
	case TaskStripPresentation:
		return Prompt{System: stripPresentationPrompt, User: payload}, nil
	case TaskInferSymbols:
		user := "Description:\n" + payload
		if name := strings.TrimSpace(req.Params["name"]); name != "" {
			user = fmt.Sprintf("Name: %s\n\n%s", name, user)
		}
		return Prompt{System: inferSymbolsPrompt, User: user}, nil
	default:
		return Prompt{}, fmt.Errorf("unknown task %q", req.Task)
	}
}
