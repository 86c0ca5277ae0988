package planner

// Tone is the classifier's reading of the user's attitude.
type Tone string

const (
	ToneFriendly     Tone = "FRIENDLY"
	ToneFormal       Tone = "FORMAL"
	TonePlayful      Tone = "PLAYFUL"
	ToneHostile      Tone = "HOSTILE"
	ToneUnclassified Tone = "UNCLASSIFIED"
)

// Topic is a subject the classifier detected in the conversation tail.
type Topic string

const (
	TopicProgramming           Topic = "PROGRAMMING"
	TopicPolitics              Topic = "POLITICS"
	TopicBrandonSandersonBooks Topic = "BRANDON_SANDERSON_BOOKS"
)

// Classification is the output of the message classifier.
type Classification struct {
	Language   string  `json:"language" jsonschema:"description=ISO 639-1 code of the language the user writes in"`
	Tone       Tone    `json:"tone" jsonschema:"enum=FRIENDLY,enum=FORMAL,enum=PLAYFUL,enum=HOSTILE,enum=UNCLASSIFIED"`
	Complexity float64 `json:"complexity" jsonschema:"minimum=0,maximum=10,description=How hard the latest request is to answer well"`
	Topics     []Topic `json:"topics" jsonschema:"description=Topics mentioned in the latest messages"`
}

// HasTopic reports whether the classification mentions topic.
func (c Classification) HasTopic(topic Topic) bool {
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
