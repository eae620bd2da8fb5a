package question

import (
	"errors"
	"testing"
)

func mcqInput(choices int, correct []int) QuestionInput {
	in := QuestionInput{
		QuestionText:   "Which statements are true?",
		QuestionType:   TypeMCQ,
		Points:         5,
		CorrectIndices: correct,
	}
	for i := 0; i < choices; i++ {
		in.Choices = append(in.Choices, ChoiceInput{Text: "choice"})
	}
	return in
}

func TestValidateQuestionInputMCQ(t *testing.T) {
	cases := []struct {
		name    string
		input   QuestionInput
		wantErr bool
	}{
		{"valid single correct", mcqInput(4, []int{1}), false},
		{"valid multiple correct", mcqInput(4, []int{0, 2}), false},
		{"only one choice", mcqInput(1, []int{0}), true},
		{"no correct index", mcqInput(3, nil), true},
		{"index out of range", mcqInput(3, []int{3}), true},
		{"negative index", mcqInput(3, []int{-1}), true},
		{"duplicate index", mcqInput(3, []int{1, 1}), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateQuestionInput(tc.input)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateQuestionInputText(t *testing.T) {
	valid := QuestionInput{QuestionText: "Describe the deployment process.", QuestionType: TypeText, Points: 10}
	if err := ValidateQuestionInput(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withChoices := valid
	withChoices.Choices = []ChoiceInput{{Text: "a"}, {Text: "b"}}
	if err := ValidateQuestionInput(withChoices); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for text question with choices, got %v", err)
	}

	withCorrect := valid
	withCorrect.CorrectIndices = []int{0}
	if err := ValidateQuestionInput(withCorrect); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for text question with correct indices, got %v", err)
	}
}

func TestValidateQuestionInputBasics(t *testing.T) {
	empty := QuestionInput{QuestionType: TypeText, Points: 1}
	if err := ValidateQuestionInput(empty); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}

	zeroPoints := QuestionInput{QuestionText: "q", QuestionType: TypeText}
	if err := ValidateQuestionInput(zeroPoints); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero points, got %v", err)
	}

	badType := QuestionInput{QuestionText: "q", QuestionType: "essay", Points: 1}
	if err := ValidateQuestionInput(badType); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown type, got %v", err)
	}
}
