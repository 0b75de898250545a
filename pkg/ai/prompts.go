package ai

// HighlightSystemPrompt frames the model as a reading analyst.
const HighlightSystemPrompt = `You are a careful reading analyst. You turn short passages a reader highlighted in a book into structured notes for a personal knowledge base. You only report what the passage supports. You always answer with a single JSON object and nothing else.`

// ExtractPromptHighlights is formatted with: book title, author, number of
// highlights, max concepts, max themes, max people, max emotions and the
// numbered highlight list.
const ExtractPromptHighlights = `
# Task Context
You analyze reading highlights taken from a single book and extract the semantic entities each highlight mentions or implies.

# Background Data
- **Book_title:** [%s]
- **Author:** [%s]
- **Number_of_highlights:** %d

# Detailed Task Description & Rules
For every highlight, identified by its index, extract:
- **concepts:** at most %d core ideas or notions (e.g., "free will", "cognitive dissonance").
- **themes:** at most %d broad topics the highlight belongs to (e.g., "philosophy", "psychology").
- **people:** at most %d persons named in the highlight. Use the name as written. Do not invent people.
- **emotions:** at most %d emotional tones the highlight conveys (e.g., "hope", "melancholy").
- **summary:** one short sentence that captures the gist.

For every entity provide an **importance** score between 0.0 and 1.0 that rates how central the entity is to the highlight (higher = more central).

Rules:
- Use concise noun phrases of one to four words. Do not return sentences as entity names.
- Do not return generic words such as "thing", "idea", "concept", "people" or "book".
- Names must be in the language of the highlight.
- Return exactly one item per highlight, with the index exactly as given. Never skip a highlight; use empty arrays when nothing applies.

# Highlights
%s

# Output Formatting
The output must be a single valid JSON object in this structure:
{
  "items": [
    {
      "index": 0,
      "concepts": [{"name": "string", "importance": 0.8}],
      "themes": [{"name": "string", "importance": 0.6}],
      "people": [{"name": "string", "importance": 0.5}],
      "emotions": [{"name": "string", "importance": 0.4}],
      "summary": "string"
    }
  ]
}
Do not include any commentary, explanations, or text outside of the JSON.
`

// HighlightItemFormat renders one highlight inside ExtractPromptHighlights.
// Arguments: index, location, content.
const HighlightItemFormat = "## Highlight %d (%s)\n%s\n"
