package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hlsforge/build-service/internal/config"
	"github.com/hlsforge/build-service/internal/job"
)

func testSubmissionConfig() config.SubmissionConfig {
	return config.SubmissionConfig{
		InstanceClasses:      []string{"c4.large", "c4.xlarge"},
		AdminInstanceClasses: []string{"c4.2xlarge"},
		CheckoutRefs:         []string{"refs/remotes/origin/master"},
		MaxFiles:             10,
	}
}

func TestValidateSubmission(t *testing.T) {
	user := &job.Account{ID: "u-1", Active: true}
	admin := &job.Account{ID: "u-2", Active: true, Admin: true}

	tests := []struct {
		name          string
		acct          *job.Account
		top           string
		checkoutRef   string
		instanceClass string
		filenames     []string
		wantErr       bool
	}{
		{
			name:          "valid user submission",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v", "alu.v"},
		},
		{
			name:          "no files",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     nil,
			wantErr:       true,
		},
		{
			name:          "too many files",
			acct:          user,
			top:           "f0.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.large",
			filenames: []string{
				"f0.v", "f1.v", "f2.v", "f3.v", "f4.v",
				"f5.v", "f6.v", "f7.v", "f8.v", "f9.v", "f10.v",
			},
			wantErr: true,
		},
		{
			name:          "top not in fileset",
			acct:          user,
			top:           "missing.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v"},
			wantErr:       true,
		},
		{
			name:          "path traversal in filename",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v", "../etc/passwd"},
			wantErr:       true,
		},
		{
			name:          "hidden filename",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v", ".ssh"},
			wantErr:       true,
		},
		{
			name:          "duplicate filenames",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v", "cpu_top.v"},
			wantErr:       true,
		},
		{
			name:          "checkout ref off the allowlist",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/heads/feature",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v"},
			wantErr:       true,
		},
		{
			name:          "admin may use any checkout ref",
			acct:          admin,
			top:           "cpu_top.v",
			checkoutRef:   "refs/heads/feature",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v"},
		},
		{
			name:          "empty checkout ref rejected even for admin",
			acct:          admin,
			top:           "cpu_top.v",
			checkoutRef:   "",
			instanceClass: "c4.xlarge",
			filenames:     []string{"cpu_top.v"},
			wantErr:       true,
		},
		{
			name:          "instance class off the allowlist",
			acct:          user,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.2xlarge",
			filenames:     []string{"cpu_top.v"},
			wantErr:       true,
		},
		{
			name:          "admin may use admin instance classes",
			acct:          admin,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "c4.2xlarge",
			filenames:     []string{"cpu_top.v"},
		},
		{
			name:          "unknown class rejected for admin too",
			acct:          admin,
			top:           "cpu_top.v",
			checkoutRef:   "refs/remotes/origin/master",
			instanceClass: "p3.16xlarge",
			filenames:     []string{"cpu_top.v"},
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubmission(testSubmissionConfig(), tt.acct, tt.top, tt.checkoutRef, tt.instanceClass, tt.filenames)
			if tt.wantErr {
				assert.ErrorIs(t, err, job.ErrInvalidSubmission)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
