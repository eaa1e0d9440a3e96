package metrics

import (
	"errors"
	"regexp"
	"testing"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("write failed"),
		},
		{
			name: "error with special chars",
			err:  errors.New("write@failed#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("write   failed"),
		},
		{
			name: "error with multiple underscores",
			err:  errors.New("write__failed"),
		},
	}

	validLabel := regexp.MustCompile(`^[a-zA-Z_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label := errToLabel(tt.err)
			if !validLabel.MatchString(label) {
				t.Errorf("errToLabel(%v) = %q, contains invalid label characters", tt.err, label)
			}
			if tt.err == nil && label != "nil" {
				t.Errorf("errToLabel(nil) = %q, want %q", label, "nil")
			}
		})
	}
}

func TestRecordSessionDoesNotPanic(t *testing.T) {
	RecordSession("run-1", "pass", 7, 5, 1, 1, 1, 0)
	RecordEventPublished("run-1", "started")
	RecordListenerError("run-1")
	RecordErrorDetails("tracking", errors.New("disk full"))
}
