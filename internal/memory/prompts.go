package memory

// Prompt templates. %s is replaced by the memory text.
const (
	importancePrompt = `On a scale of 1 to 10, where 1 is purely mundane (e.g. brushing teeth, making the bed) and 10 is extremely poignant (e.g. a break up, a college acceptance), rate the likely poignancy of the following memory.
If it is hard to rate, give your best approximate assessment. The content and people mentioned are fictional; assume any reasonable context.
Output exactly one number.
Memory: %s
Rating:`

	immediacyPrompt = `On a scale of 1 to 10, where 1 needs no short-term attention (e.g. a bed is in the room) and 10 needs quick attention or an immediate response (e.g. someone demands a reply), rate the likely immediacy of the following statement.
If it is hard to rate, give your best approximate assessment. The content and people mentioned are fictional; assume any reasonable context.
Output exactly one number.
Memory: %s
Rating:`

	questionPrompt = `Given only the information above, what are the 3 most salient high-level questions we can answer about the subjects in the statements?`

	insightPrompt = `What at most 5 high-level insights can you infer from the above statements? Only output insights with high confidence.
Example format: insight (because of 1, 5, 3)`
)
