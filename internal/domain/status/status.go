// Package status defines shared status types for messages and workflow executions.
package status

import "errors"

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Message is the lifecycle status of a conversation message.
type Message string

const (
	MessageInProgress  Message = "IN_PROGRESS"
	MessageCompleted   Message = "COMPLETED"
	MessageInterrupted Message = "INTERRUPTED"
)

var messageTransitions = map[Message][]Message{
	MessageInProgress: {MessageCompleted, MessageInterrupted},
	// Terminal states have no valid transitions
	MessageCompleted:   {},
	MessageInterrupted: {},
}

// IsTerminal returns true if the message can no longer change status.
func (s Message) IsTerminal() bool {
	return s == MessageCompleted || s == MessageInterrupted
}

// IsValid reports whether s is a known message status.
func (s Message) IsValid() bool {
	_, ok := messageTransitions[s]
	return ok
}

func (s Message) String() string {
	return string(s)
}

// CanTransitionTo checks if a transition from current status to target status is valid.
func (s Message) CanTransitionTo(target Message) bool {
	return contains(messageTransitions[s], target)
}

// TransitionTo attempts to transition to the target status and returns error if invalid.
func (s Message) TransitionTo(target Message) (Message, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}

// Execution is the lifecycle status of a durable workflow execution.
type Execution string

const (
	ExecutionPending   Execution = "PENDING"
	ExecutionRunning   Execution = "RUNNING"
	ExecutionCompleted Execution = "COMPLETED"
	ExecutionFailed    Execution = "FAILED"
)

var executionTransitions = map[Execution][]Execution{
	ExecutionPending: {ExecutionRunning},
	// RUNNING -> RUNNING is a re-claim after the previous lease expired.
	ExecutionRunning:   {ExecutionRunning, ExecutionCompleted, ExecutionFailed},
	ExecutionCompleted: {},
	ExecutionFailed:    {},
}

// IsTerminal returns true if the execution will not run again.
func (s Execution) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

func (s Execution) String() string {
	return string(s)
}

// CanTransitionTo checks if a transition from current status to target status is valid.
func (s Execution) CanTransitionTo(target Execution) bool {
	return contains(executionTransitions[s], target)
}

// TransitionTo attempts to transition to the target status and returns error if invalid.
func (s Execution) TransitionTo(target Execution) (Execution, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}

// Checkpoint is the status of a single activity inside an execution.
type Checkpoint string

const (
	CheckpointRunning   Checkpoint = "RUNNING"
	CheckpointCompleted Checkpoint = "COMPLETED"
	CheckpointFailed    Checkpoint = "FAILED"
)

func contains[T comparable](values []T, target T) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
