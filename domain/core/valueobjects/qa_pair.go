package valueobjects

import (
	"strings"
	"time"

	pkgerrors "topicgrader/pkg/errors"
)

// QAPair is one question/answer turn of a conversation.
// It is immutable; accessors hand out copies of the metadata.
type QAPair struct {
	question  string
	answer    string
	timestamp time.Time
	metadata  map[string]string
}

// NewQAPair creates a QAPair, rejecting blank questions or answers.
// A zero timestamp is replaced with the current time.
func NewQAPair(question, answer string, timestamp time.Time, metadata map[string]string) (QAPair, error) {
	errs := pkgerrors.NewValidationErrors()
	if strings.TrimSpace(question) == "" {
		errs.AddError(pkgerrors.ErrEmptyQuestion)
	}
	if strings.TrimSpace(answer) == "" {
		errs.AddError(pkgerrors.ErrEmptyAnswer)
	}
	if err := errs.AsAppError(); err != nil {
		return QAPair{}, err
	}

	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return QAPair{
		question:  question,
		answer:    answer,
		timestamp: timestamp,
		metadata:  copyMetadata(metadata),
	}, nil
}

// Question returns the question text
func (q QAPair) Question() string { return q.question }

// Answer returns the answer text
func (q QAPair) Answer() string { return q.answer }

// Timestamp returns when the turn happened
func (q QAPair) Timestamp() time.Time { return q.timestamp }

// Metadata returns a copy of the free-form metadata
func (q QAPair) Metadata() map[string]string { return copyMetadata(q.metadata) }

// IsZero reports whether q was never constructed
func (q QAPair) IsZero() bool {
	return q.question == "" && q.answer == ""
}

// Text returns question and answer joined by a space
func (q QAPair) Text() string {
	return q.question + " " + q.answer
}

// Equals compares content and timestamp
func (q QAPair) Equals(other QAPair) bool {
	if q.question != other.question || q.answer != other.answer || !q.timestamp.Equal(other.timestamp) {
		return false
	}
	if len(q.metadata) != len(other.metadata) {
		return false
	}
	for k, v := range q.metadata {
		if other.metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
