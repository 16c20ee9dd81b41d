package textprocessor

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Operation string

const (
	Summarize Operation = "summarize"
	Sentiment Operation = "sentiment"
	KeyPoints Operation = "key_points"
	Questions Operation = "questions"
	QA        Operation = "qa"
)

const (
	MinTextLength = 10
	MaxTextLength = 10000
	MaxBatchSize  = 50
)

var ErrValidation = errors.New("validation failed")

var operations = []Operation{Summarize, Sentiment, KeyPoints, Questions, QA}

type Options struct {
	MaxLength    int `json:"max_length,omitempty"`
	MaxPoints    int `json:"max_points,omitempty"`
	NumQuestions int `json:"num_questions,omitempty"`
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.MaxLength, validation.Min(10), validation.Max(500)),
		validation.Field(&o.MaxPoints, validation.Min(1), validation.Max(20)),
		validation.Field(&o.NumQuestions, validation.Min(1), validation.Max(20)),
	)
}

// withDefaults fills in the options relevant to op.
func (o Options) withDefaults(op Operation) Options {
	switch op {
	case Summarize:
		if o.MaxLength == 0 {
			o.MaxLength = 150
		}
	case KeyPoints:
		if o.MaxPoints == 0 {
			o.MaxPoints = 5
		}
	case Questions:
		if o.NumQuestions == 0 {
			o.NumQuestions = 5
		}
	}
	return o
}

// keyOptions returns only the options that influence op's result.
func (o Options) keyOptions(op Operation) map[string]any {
	switch op {
	case Summarize:
		return map[string]any{"max_length": o.MaxLength}
	case KeyPoints:
		return map[string]any{"max_points": o.MaxPoints}
	case Questions:
		return map[string]any{"num_questions": o.NumQuestions}
	default:
		return nil
	}
}

type Request struct {
	Text      string    `json:"text"`
	Operation Operation `json:"operation"`
	Options   Options   `json:"options"`
	Question  string    `json:"question,omitempty"`
}

func (r Request) Validate() error {
	ops := make([]any, len(operations))
	for i, op := range operations {
		ops[i] = op
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.RuneLength(MinTextLength, MaxTextLength)),
		validation.Field(&r.Operation, validation.Required, validation.In(ops...)),
		validation.Field(&r.Question,
			validation.When(r.Operation == QA, validation.Required.Error("is required for qa")),
			validation.RuneLength(0, 1000)),
		validation.Field(&r.Options),
	)
}

// sanitized returns a copy with Text and Question sanitised. Sanitising can
// shrink the text, so the minimum length and the qa question are checked
// again.
func (r Request) sanitized() (Request, error) {
	r.Text = Sanitize(r.Text)
	r.Question = Sanitize(r.Question)

	err := validation.ValidateStruct(&r,
		validation.Field(&r.Text,
			validation.Required.Error("is empty after sanitising"),
			validation.RuneLength(MinTextLength, 0).Error(
				fmt.Sprintf("must contain at least %d characters after sanitising", MinTextLength))),
		validation.Field(&r.Question,
			validation.When(r.Operation == QA, validation.Required.Error("is empty after sanitising"))),
	)
	return r, err
}

type BatchRequest struct {
	Requests []Request `json:"requests"`
	BatchID  string    `json:"batch_id,omitempty"`
}

// Validate checks the batch size only. Items are validated one by one in
// ProcessBatch so a bad item does not fail the whole batch.
func (b BatchRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Requests, validation.Required, validation.Length(1, MaxBatchSize), validation.Skip),
	)
}
