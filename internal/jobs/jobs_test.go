package jobs

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/driveimport/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestValidateOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.Outcome
		wantErr bool
	}{
		{"processed", models.Succeeded("j", "i", nil), false},
		{"failed", models.FailedWith("j", "i", "x"), false},
		{"missing job", models.Succeeded("", "i", nil), true},
		{"missing item", models.Succeeded("j", "", nil), true},
		{"negative", models.Outcome{JobID: "j", ItemID: "i", Processed: -1}, true},
		{"empty", models.Outcome{JobID: "j", ItemID: "i"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutcome(tt.outcome)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOutcome)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyTo_CompletesExactlyAtTotal(t *testing.T) {
	now := time.Now()
	job := NewJob("j", "src", 2, now)

	res := applyTo(job, models.Succeeded("j", "a", nil), now)
	assert.False(t, res.Completed)
	assert.Equal(t, models.JobStatusProcessing, job.Status)

	res = applyTo(job, models.FailedWith("j", "b", "x"), now)
	assert.True(t, res.Completed)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestFits(t *testing.T) {
	job := NewJob("j", "src", 2, time.Now())
	job.Processed = 1
	assert.True(t, fits(job, models.Succeeded("j", "a", nil)))
	assert.False(t, fits(job, models.Outcome{JobID: "j", ItemID: "a", Processed: 1, Failed: 1}))
}
