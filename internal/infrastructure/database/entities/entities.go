package entities

// All returns every entity, in dependency order, for schema tooling and tests.
func All() []any {
	return []any{
		&Conversation{},
		&Message{},
		&MessagePart{},
		&UserExperienceEvaluation{},
		&WorkflowExecution{},
		&WorkflowCheckpoint{},
	}
}
