package validators

import (
	"fmt"
	"unicode/utf8"

	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/pkg/errors"
	"topicgrader/pkg/utils"
)

// QAPairValidator applies configured size limits to incoming Q&A pairs
type QAPairValidator struct {
	maxQuestionLength int
	maxAnswerLength   int
}

// NewQAPairValidator creates a validator with the given rune limits
func NewQAPairValidator(maxQuestionLength, maxAnswerLength int) *QAPairValidator {
	return &QAPairValidator{
		maxQuestionLength: maxQuestionLength,
		maxAnswerLength:   maxAnswerLength,
	}
}

// Validate checks a pair built elsewhere. A zero pair is rejected as blank.
func (v *QAPairValidator) Validate(qa valueobjects.QAPair) error {
	validationErrors := errors.NewValidationErrors()

	if err := utils.ValidateVar("question", qa.Question(), "notblank"); err != nil {
		validationErrors.AddError(errors.ErrEmptyQuestion)
	} else if n := utf8.RuneCountInString(qa.Question()); n > v.maxQuestionLength {
		validationErrors.Add("question", fmt.Sprintf("question is %d characters, limit is %d", n, v.maxQuestionLength))
	}

	if err := utils.ValidateVar("answer", qa.Answer(), "notblank"); err != nil {
		validationErrors.AddError(errors.ErrEmptyAnswer)
	} else if n := utf8.RuneCountInString(qa.Answer()); n > v.maxAnswerLength {
		validationErrors.Add("answer", fmt.Sprintf("answer is %d characters, limit is %d", n, v.maxAnswerLength))
	}

	return validationErrors.AsAppError()
}

// ValidateScore checks an optional explicit score
func (v *QAPairValidator) ValidateScore(score *float64) error {
	if score == nil {
		return nil
	}
	if !entities.ValidScore(*score) {
		return errors.Validation(errors.ErrInvalidScore, "score %v is outside [0, 100]", *score)
	}
	return nil
}
