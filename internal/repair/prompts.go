package repair

import "fmt"

func correctionPrompt(tokensJSON string) string {
	return fmt.Sprintf(`## Role
You are an English speech-recognition token corrector.

## Task
The tokens below are word-level English recognition output. Return only the
tokens that are clearly misrecognized or misspelled, including misspelled
names of people, brands, companies and products. You may replace a token
with one corrected token. Never add, delete, reorder or merge tokens.

## Policy
- Keep the original unless the correction is unambiguous from local context.
- Identify each correction by the exact start_key from the input.
- Never normalize spoken forms such as gonna, wanna, gotta, kinda, sorta,
  ain't or y'all.
- Leave plausible acronyms, stylized names and unusual brand spellings alone.
- Do not swap one plausible acronym for another.
- Omit items whose source equals target.

## INPUT
<tokens_json>
%s
</tokens_json>

## Output in only JSON format and no other text
`+"```json"+`
{
  "analysis": "short note on the errors found",
  "corrections": [
    {
      "start_key": "start_key copied from the input",
      "source": "token as recognized",
      "target": "corrected token",
      "type": "spelling|asr|person|brand|company|product",
      "confidence": "high",
      "reason": "short reason"
    }
  ]
}
`+"```"+`

Return "corrections": [] when nothing needs fixing.`, tokensJSON)
}

func entityRepairPrompt(pairsJSON string) string {
	return fmt.Sprintf(`## Role
You review sentence boundaries in subtitles.

## Task
Each item is a pair of adjacent subtitle lines. Report only the pairs where a
multi-word proper noun or named entity (person, company, organization,
product or model, place, title, event) is cut by the boundary: the entity is
a suffix of the left line followed by a prefix of the right line.

## Rules
- Named entities only. No grammar, style or generic phrase fixes.
- left_words and right_words are positive word counts taken at the boundary,
  usually 1 to 4 per side.
- At most one item per pair_id.
- Report high-confidence cases only.

## INPUT
<boundary_pairs_json>
%s
</boundary_pairs_json>

## Output in only JSON format and no other text
`+"```json"+`
{
  "analysis": "short note on boundary quality",
  "corrections": [
    {
      "pair_id": 12,
      "left_words": 1,
      "right_words": 2,
      "entity": "5070 Ti Super",
      "type": "product",
      "confidence": "high",
      "reason": "model name split across the boundary"
    }
  ]
}
`+"```"+`

Return "corrections": [] when no boundary needs repair.`, pairsJSON)
}
